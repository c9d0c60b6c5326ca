package relay

import (
	"errors"

	"github.com/blues/stamp/internal/chain"
)

var (
	// ErrMalformedRequest 请求字段缺失或格式错误
	ErrMalformedRequest = errors.New("malformed sponsorship request")
	// ErrUnsupportedCall 目标合约不是本中继代付的合约
	ErrUnsupportedCall = errors.New("unsupported call")
	// ErrSignatureMismatch 签名人与 userAddress 不一致，未花费任何 gas
	ErrSignatureMismatch = errors.New("signature does not match user address")
	// ErrRelayExecutionFailed 提交失败、链上回滚或确认超时
	ErrRelayExecutionFailed = errors.New("relay execution failed")
	// ErrMintEventNotFound 交易成功但回执中没有铸造事件
	ErrMintEventNotFound = errors.New("mint event not found")
	// ErrBurnEventNotFound 交易成功但回执中没有销毁事件
	ErrBurnEventNotFound = errors.New("burn event not found")
)

// ErrorCode 返回给客户端的错误码，用于区分可重试与需人工介入的失败
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return "MALFORMED_REQUEST"
	case errors.Is(err, ErrUnsupportedCall):
		return "UNSUPPORTED_CALL"
	case errors.Is(err, ErrSignatureMismatch):
		return "SIGNATURE_MISMATCH"
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return "CONFIRMATION_TIMEOUT"
	case errors.Is(err, chain.ErrTransactionReverted):
		return "TRANSACTION_REVERTED"
	case errors.Is(err, ErrRelayExecutionFailed):
		return "RELAY_EXECUTION_FAILED"
	case errors.Is(err, ErrMintEventNotFound):
		return "MINT_EVENT_NOT_FOUND"
	case errors.Is(err, ErrBurnEventNotFound):
		return "BURN_EVENT_NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// IsClientError 请求本身的问题，没有产生任何链上副作用
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrUnsupportedCall) ||
		errors.Is(err, ErrSignatureMismatch)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed"
	case errors.Is(err, ErrUnsupportedCall):
		return "unsupported"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return "timeout"
	case errors.Is(err, ErrRelayExecutionFailed):
		return "execution_failed"
	case errors.Is(err, ErrMintEventNotFound), errors.Is(err, ErrBurnEventNotFound):
		return "event_not_found"
	default:
		return "error"
	}
}
