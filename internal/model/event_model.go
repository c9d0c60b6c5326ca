package model

import (
	"time"
)

// ChainEventModel 链上 Transfer 事件记录
type ChainEventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractAddress string `json:"contract_address" gorm:"size:42;not null"`
	EventName       string `json:"event_name" gorm:"size:32;not null"` // mint, burn, transfer
	TxHash          string `json:"tx_hash" gorm:"size:66;not null;uniqueIndex:idx_chain_event_tx_log"`
	LogIndex        int64  `json:"log_index" gorm:"not null;uniqueIndex:idx_chain_event_tx_log"`
	BlockNum        int64  `json:"block_num" gorm:"not null;index"`
	FromAddress     string `json:"from_address" gorm:"size:42"`
	ToAddress       string `json:"to_address" gorm:"size:42"`
	TokenId         string `json:"token_id" gorm:"size:78;not null;index"`
	Processed       bool   `json:"processed" gorm:"default:false"`
}

// TableName 自定义表名
func (ChainEventModel) TableName() string {
	return "chain_event"
}
