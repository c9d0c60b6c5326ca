package model

import (
	"time"
)

// Stamp 创建印章记录的请求数据，服务端字段（id、updatedAt）不在其中
type Stamp struct {
	StampId        string     `json:"stampId"`
	OwnerAddress   string     `json:"ownerAddress"`
	StoreName      string     `json:"storeName"`
	Discount       string     `json:"discount"`
	DiscountType   string     `json:"discountType"`
	DiscountAmount *float64   `json:"discountAmount"`
	TxHash         string     `json:"txHash"`
	ValidUntil     *time.Time `json:"validUntil"`
	Ipfs           string     `json:"ipfs"`
	Variant        string     `json:"variant"`
	Status         string     `json:"status,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

// StampFilter 查询过滤条件，空值表示不过滤
type StampFilter struct {
	Status       StampStatus
	StoreName    string
	DiscountType DiscountType
}

// StatusUpdateResult 批量更新状态结果
type StatusUpdateResult struct {
	MatchedCount  int64        `json:"matchedCount"`
	ModifiedCount int64        `json:"modifiedCount"`
	Records       []StampModel `json:"data"`
}
