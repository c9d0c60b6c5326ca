package handler

import (
	"fmt"
	"net/http"

	"github.com/blues/stamp/internal/logic"
	"github.com/blues/stamp/internal/model"
	"github.com/gin-gonic/gin"
)

type StampHandler struct {
	stampLogic *logic.StampLogic
}

func NewStampHandler(stampLogic *logic.StampLogic) *StampHandler {
	return &StampHandler{stampLogic: stampLogic}
}

// Mint 登记铸造成功的印章
func (h *StampHandler) Mint(c *gin.Context) {
	var stamp model.Stamp
	if err := c.ShouldBindJSON(&stamp); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.stampLogic.Create(c.Request.Context(), &stamp)
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "印章登记成功", created)
}

// GetByOwner 获取用户持有的印章
func (h *StampHandler) GetByOwner(c *gin.Context) {
	filter := model.StampFilter{
		Status:       model.StampStatus(c.Query("status")),
		StoreName:    c.Query("storeName"),
		DiscountType: model.DiscountType(c.Query("discountType")),
	}

	stamps, err := h.stampLogic.FindByOwner(c.Request.Context(), c.Param("address"), filter)
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Success: true,
		Data:    stamps,
		Count:   len(stamps),
	})
}

// GetByStore 获取店铺发行的印章
func (h *StampHandler) GetByStore(c *gin.Context) {
	storeName := c.Param("storeName")
	filter := model.StampFilter{
		Status:       model.StampStatus(c.Query("status")),
		DiscountType: model.DiscountType(c.Query("discountType")),
	}

	stamps, err := h.stampLogic.FindByStore(c.Request.Context(), storeName, filter)
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Success:   true,
		Data:      stamps,
		Count:     len(stamps),
		StoreName: storeName,
	})
}

// GetStamp 获取印章详情
func (h *StampHandler) GetStamp(c *gin.Context) {
	stamp, err := h.stampLogic.FindByID(c.Request.Context(), c.Param("stampId"))
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", stamp)
}

// DeleteStamp 管理员删除印章
func (h *StampHandler) DeleteStamp(c *gin.Context) {
	stamp, err := h.stampLogic.Delete(c.Request.Context(), c.Param("stampId"))
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "印章已删除", stamp)
}

// UpdateStatus 批量更新印章状态
func (h *StampHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.stampLogic.UpdateStatusBatch(c.Request.Context(), req.StampIds, req.Status)
	if err != nil {
		LedgerErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, UpdateStatusResponse{
		Success:      true,
		Data:         result.Records,
		UpdatedCount: result.ModifiedCount,
		MatchedCount: result.MatchedCount,
		Message:      fmt.Sprintf("成功更新 %d 个印章", result.ModifiedCount),
	})
}
