package handler

import (
	"errors"
	"net/http"

	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error:   message,
	})
}

// LedgerErrorResponse 按账本错误类型映射 HTTP 状态码
func LedgerErrorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logic.ErrDuplicateTransaction), errors.Is(err, logic.ErrDuplicateStamp):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, logic.ErrValidation),
		errors.Is(err, logic.ErrInvalidStatus),
		errors.Is(err, logic.ErrInvalidTransition):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, logic.ErrNotFound), errors.Is(err, logic.ErrNoMatchingRecords):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	default:
		logger.Error("Ledger request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		ErrorResponse(c, http.StatusInternalServerError, "服务器内部错误")
	}
}
