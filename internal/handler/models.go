package handler

import (
	"github.com/blues/stamp/internal/model"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应
type ListResponse struct {
	Success   bool               `json:"success"`
	Data      []model.StampModel `json:"data"`
	Count     int                `json:"count"`
	StoreName string             `json:"storeName,omitempty"`
}

// UpdateStatusRequest 批量更新状态请求
type UpdateStatusRequest struct {
	StampIds []string `json:"stampIds"`
	Status   string   `json:"status"`
}

// UpdateStatusResponse 批量更新状态响应
type UpdateStatusResponse struct {
	Success      bool               `json:"success"`
	Data         []model.StampModel `json:"data"`
	UpdatedCount int64              `json:"updatedCount"`
	MatchedCount int64              `json:"matchedCount"`
	Message      string             `json:"message"`
}

// RelayErrorResponse 代付失败响应，code 用于客户端区分重试策略
type RelayErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code"`
}
