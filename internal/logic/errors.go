package logic

import "errors"

var (
	ErrDuplicateTransaction = errors.New("交易哈希已存在")
	ErrDuplicateStamp       = errors.New("印章ID已存在")
	ErrValidation           = errors.New("参数校验失败")
	ErrNotFound             = errors.New("印章不存在")
	ErrInvalidStatus        = errors.New("无效的状态值")
	ErrInvalidTransition    = errors.New("不允许的状态变更")
	ErrNoMatchingRecords    = errors.New("没有匹配的印章记录")
)
