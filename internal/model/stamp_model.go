package model

import (
	"time"
)

// StampModel 印章（优惠券NFT）记录
type StampModel struct {
	Id        int64     `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`

	// 链上信息
	StampId      string `json:"stampId" gorm:"size:78;not null;uniqueIndex"` // tokenId 十进制字符串
	OwnerAddress string `json:"ownerAddress" gorm:"size:42;not null;index"`
	TxHash       string `json:"txHash" gorm:"size:66;not null;uniqueIndex"` // 铸造交易哈希

	// 优惠信息
	StoreName      string       `json:"storeName" gorm:"not null;index"`
	Discount       string       `json:"discount" gorm:"not null"`
	DiscountType   DiscountType `json:"discountType" gorm:"size:16;not null"`
	DiscountAmount float64      `json:"discountAmount" gorm:"not null"`
	ValidUntil     time.Time    `json:"validUntil" gorm:"not null;index"`
	Ipfs           string       `json:"ipfs" gorm:"not null"`
	Variant        string       `json:"variant" gorm:"not null"`

	// 状态
	Status StampStatus `json:"status" gorm:"size:16;not null;default:'active';index"`
}

// StampStatus 印章状态
type StampStatus string

const (
	StampStatusActive   StampStatus = "active"   // 可用
	StampStatusUsed     StampStatus = "used"     // 已核销
	StampStatusExpired  StampStatus = "expired"  // 已过期
	StampStatusInactive StampStatus = "inactive" // 已停用
)

// StampStatuses 全部合法状态
var StampStatuses = []StampStatus{
	StampStatusActive,
	StampStatusUsed,
	StampStatusExpired,
	StampStatusInactive,
}

// Valid 是否为合法状态
func (s StampStatus) Valid() bool {
	for _, status := range StampStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// DiscountType 优惠类型
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage" // 百分比
	DiscountTypeFixed      DiscountType = "fixed"      // 固定金额
)

// Valid 是否为合法优惠类型
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// TableName 自定义表名
func (StampModel) TableName() string {
	return "stamp"
}
