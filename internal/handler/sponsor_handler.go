package handler

import (
	"context"
	"net/http"

	"github.com/blues/stamp/internal/relay"
	"github.com/gin-gonic/gin"
)

// Sponsor 代付能力，*relay.Relay 满足该接口
type Sponsor interface {
	Sponsor(ctx context.Context, req relay.SponsorshipRequest) (*relay.SponsorshipResult, error)
}

type SponsorHandler struct {
	relay Sponsor
}

func NewSponsorHandler(r Sponsor) *SponsorHandler {
	return &SponsorHandler{relay: r}
}

// SponsorGas 代付 gas 执行用户签名的调用
func (h *SponsorHandler) SponsorGas(c *gin.Context) {
	var req relay.SponsorshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RelayErrorResponse{
			Error:   "请求格式错误",
			Details: err.Error(),
			Code:    relay.ErrorCode(relay.ErrMalformedRequest),
		})
		return
	}

	result, err := h.relay.Sponsor(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		message := "代付交易执行失败"
		if relay.IsClientError(err) {
			status = http.StatusBadRequest
			message = "代付请求被拒绝"
		}
		c.JSON(status, RelayErrorResponse{
			Error:   message,
			Details: err.Error(),
			Code:    relay.ErrorCode(err),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
