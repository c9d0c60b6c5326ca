package relay

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/blues/stamp/internal/chain"
	"github.com/blues/stamp/internal/contract"
	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/metrics"
	"github.com/blues/stamp/internal/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Gateway 中继依赖的链网关能力
type Gateway interface {
	EstimateGas(ctx context.Context, to common.Address, data []byte) uint64
	CurrentGasPrice(ctx context.Context) *big.Int
	Submit(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64, gasPrice *big.Int) (*chain.PendingTx, error)
	AwaitReceipt(ctx context.Context, pending *chain.PendingTx) (*types.Receipt, error)
}

// SponsorshipRequest 代付请求
type SponsorshipRequest struct {
	UserAddress    string              `json:"userAddress"`
	TargetContract string              `json:"targetContract"`
	FunctionData   string              `json:"functionData"`
	UserSignature  string              `json:"userSignature"`
	OriginalTxData *signature.CallData `json:"originalTxData"`
}

// SponsorshipResult 代付结果
type SponsorshipResult struct {
	Success           bool              `json:"success"`
	Kind              contract.CallKind `json:"kind"`
	StampId           string            `json:"stampId,omitempty"`
	BurnedStampIds    []string          `json:"burnedStampIds,omitempty"`
	TransactionHash   string            `json:"transactionHash"`
	BlockNumber       uint64            `json:"blockNumber"`
	GasUsed           string            `json:"gasUsed"`
	EffectiveGasPrice string            `json:"effectiveGasPrice"`
}

// Relay 代付中继：验签、代付 gas、等待确认、解码事件
type Relay struct {
	gateway Gateway
	stamp   *contract.StampNFT
	metrics *metrics.Metrics
}

// New 创建中继
func New(gateway Gateway, stamp *contract.StampNFT, m *metrics.Metrics) *Relay {
	return &Relay{
		gateway: gateway,
		stamp:   stamp,
		metrics: m,
	}
}

// verifiedCall 通过形状校验的请求
type verifiedCall struct {
	user      common.Address
	signature []byte
	call      *signature.Call
	kind      contract.CallKind
}

// Sponsor 处理一次代付请求
func (r *Relay) Sponsor(ctx context.Context, req SponsorshipRequest) (*SponsorshipResult, error) {
	kind := contract.CallUnknown
	result, err := r.sponsor(ctx, req, &kind)
	r.metrics.RelayOutcome(string(kind), outcomeLabel(err))
	return result, err
}

func (r *Relay) sponsor(ctx context.Context, req SponsorshipRequest, kind *contract.CallKind) (*SponsorshipResult, error) {
	vc, err := r.validate(req)
	if err != nil {
		return nil, err
	}
	*kind = vc.kind

	// 验签必须在任何链上调用之前完成
	if !signature.VerifyCall(vc.user, vc.signature, vc.call) {
		logger.Warn("Rejected sponsorship for %s: signature mismatch", vc.user.Hex())
		return nil, ErrSignatureMismatch
	}

	gasLimit := r.gateway.EstimateGas(ctx, vc.call.To, vc.call.Data)
	gasPrice := r.gateway.CurrentGasPrice(ctx)

	logger.Info("Sponsoring %s call for %s on %s (gas limit: %d, gas price: %s)",
		vc.kind, vc.user.Hex(), vc.call.To.Hex(), gasLimit, gasPrice)

	pending, err := r.gateway.Submit(ctx, vc.call.To, vc.call.Data, vc.call.Value, gasLimit, gasPrice)
	if err != nil {
		logger.Error("Failed to submit sponsored %s for %s: %v", vc.kind, vc.user.Hex(), err)
		return nil, fmt.Errorf("%w: %w", ErrRelayExecutionFailed, err)
	}

	// 交易已广播，不再随请求取消
	receipt, err := r.gateway.AwaitReceipt(context.WithoutCancel(ctx), pending)
	if err != nil {
		logger.Error("Sponsored %s %s failed: %v", vc.kind, pending.Hash.Hex(), err)
		return nil, fmt.Errorf("%w: %w", ErrRelayExecutionFailed, err)
	}

	r.metrics.RelayGasUsed(string(vc.kind), receipt.GasUsed)

	result := &SponsorshipResult{
		Success:           true,
		Kind:              vc.kind,
		TransactionHash:   pending.Hash.Hex(),
		GasUsed:           new(big.Int).SetUint64(receipt.GasUsed).String(),
		EffectiveGasPrice: effectiveGasPrice(receipt, gasPrice),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	switch vc.kind {
	case contract.CallBurn:
		events, err := r.stamp.FindBurnEvents(receipt.Logs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBurnEventNotFound, err)
		}
		if len(events) == 0 {
			logger.Error("Burn %s succeeded without a Transfer to the zero address", pending.Hash.Hex())
			return nil, fmt.Errorf("%w: tx %s", ErrBurnEventNotFound, pending.Hash.Hex())
		}
		for _, event := range events {
			result.BurnedStampIds = append(result.BurnedStampIds, event.TokenId.String())
		}
	default:
		event, err := r.stamp.FindMintEvent(receipt.Logs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMintEventNotFound, err)
		}
		if event == nil {
			logger.Error("Mint %s succeeded without a Transfer from the zero address, check the contract ABI", pending.Hash.Hex())
			return nil, fmt.Errorf("%w: tx %s", ErrMintEventNotFound, pending.Hash.Hex())
		}
		result.StampId = event.TokenId.String()
	}

	logger.Info("Sponsored %s confirmed: tx %s, block %d, gas used %s",
		vc.kind, result.TransactionHash, result.BlockNumber, result.GasUsed)
	return result, nil
}

// validate 检查必填字段与格式，并确认签名覆盖的调用就是将要执行的调用
func (r *Relay) validate(req SponsorshipRequest) (*verifiedCall, error) {
	if req.UserAddress == "" || req.TargetContract == "" || req.FunctionData == "" ||
		req.UserSignature == "" || req.OriginalTxData == nil ||
		req.OriginalTxData.To == "" || req.OriginalTxData.Data == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedRequest)
	}

	if !common.IsHexAddress(req.UserAddress) {
		return nil, fmt.Errorf("%w: invalid userAddress", ErrMalformedRequest)
	}
	if !common.IsHexAddress(req.TargetContract) {
		return nil, fmt.Errorf("%w: invalid targetContract", ErrMalformedRequest)
	}
	functionData, err := hexutil.Decode(req.FunctionData)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid functionData: %v", ErrMalformedRequest, err)
	}
	sig, err := hexutil.Decode(req.UserSignature)
	if err != nil || len(sig) != signature.SignatureLength {
		return nil, fmt.Errorf("%w: userSignature must be %d hex bytes", ErrMalformedRequest, signature.SignatureLength)
	}
	call, err := req.OriginalTxData.Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid originalTxData: %v", ErrMalformedRequest, err)
	}

	if call.To != common.HexToAddress(req.TargetContract) || !bytes.Equal(call.Data, functionData) {
		return nil, fmt.Errorf("%w: originalTxData does not match targetContract/functionData", ErrMalformedRequest)
	}

	if call.To != r.stamp.GetAddress() {
		return nil, fmt.Errorf("%w: target %s is not the stamp contract", ErrUnsupportedCall, call.To.Hex())
	}

	kind := r.stamp.Classify(call.Data)
	if kind != contract.CallBurn {
		kind = contract.CallMint
	}

	return &verifiedCall{
		user:      common.HexToAddress(req.UserAddress),
		signature: sig,
		call:      call,
		kind:      kind,
	}, nil
}

func effectiveGasPrice(receipt *types.Receipt, fallback *big.Int) string {
	if receipt.EffectiveGasPrice != nil {
		return receipt.EffectiveGasPrice.String()
	}
	if fallback != nil {
		return fallback.String()
	}
	return "0"
}
