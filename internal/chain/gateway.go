package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/blues/stamp/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrSubmitFailed 签名或广播失败
	ErrSubmitFailed = errors.New("transaction submission failed")
	// ErrConfirmationTimeout 超时未观察到回执，结果未知
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrTransactionReverted 交易已上链但执行失败
	ErrTransactionReverted = errors.New("transaction reverted")
)

const (
	// FallbackGasLimit 估算失败时使用的保守 gas 上限
	FallbackGasLimit uint64 = 200000
	// GasMarginPercent 估算值的安全余量
	GasMarginPercent = 20

	DefaultReceiptTimeout = 2 * time.Minute
	DefaultPollInterval   = 2 * time.Second
)

// FallbackGasPrice 无法获取费用数据时的底价 1 gwei
var FallbackGasPrice = big.NewInt(1_000_000_000)

// Backend 中继需要的 JSON-RPC 子集，*ethclient.Client 满足该接口
type Backend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PendingTx 已广播待确认的交易
type PendingTx struct {
	Hash  common.Hash
	Nonce uint64
	Tx    *types.Transaction
}

// GatewayOptions 网关可选配置
type GatewayOptions struct {
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	// OnEstimationFallback 估算回退时回调，what 为 "gas" 或 "price"
	OnEstimationFallback func(what string, err error)
}

// Gateway 链网关：费用估算、交易提交、回执轮询
type Gateway struct {
	backend Backend
	signer  TxSigner
	opts    GatewayOptions

	// nonceMu 串行化 "读取nonce -> 签名 -> 广播 -> 递增"，不覆盖等待回执
	nonceMu    sync.Mutex
	nextNonce  uint64
	nonceKnown bool
}

// NewGateway 创建链网关
func NewGateway(backend Backend, signer TxSigner, opts GatewayOptions) *Gateway {
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = DefaultReceiptTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Gateway{
		backend: backend,
		signer:  signer,
		opts:    opts,
	}
}

// RelayAddress 代付账户地址
func (g *Gateway) RelayAddress() common.Address {
	return g.signer.Address()
}

// EstimateGas 估算 gas 并加 20% 余量；失败时回退到固定值，不阻断代付
func (g *Gateway) EstimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	estimate, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: g.signer.Address(),
		To:   &to,
		Data: data,
	})
	if err != nil {
		logger.Warn("Gas estimation failed for %s, using fallback %d: %v", to.Hex(), FallbackGasLimit, err)
		g.fallback("gas", err)
		return FallbackGasLimit
	}
	return estimate * (100 + GasMarginPercent) / 100
}

// CurrentGasPrice 优先使用网络建议价格，失败时回退到 1 gwei
func (g *Gateway) CurrentGasPrice(ctx context.Context) *big.Int {
	price, err := g.backend.SuggestGasPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		if err == nil {
			err = fmt.Errorf("empty fee data")
		}
		logger.Warn("Fee data unavailable, using fallback gas price %s: %v", FallbackGasPrice, err)
		g.fallback("price", err)
		return new(big.Int).Set(FallbackGasPrice)
	}
	return price
}

// Submit 使用代付账户签名并广播交易
func (g *Gateway) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64, gasPrice *big.Int) (*PendingTx, error) {
	if value == nil {
		value = new(big.Int)
	}

	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	nonce, err := g.allocateNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := g.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign transaction: %w", ErrSubmitFailed, err)
	}

	if err := g.backend.SendTransaction(ctx, signedTx); err != nil {
		// 广播失败时丢弃缓存，下次重新读取链上 nonce
		g.nonceKnown = false
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	g.nextNonce = nonce + 1
	g.nonceKnown = true

	logger.Info("Broadcast sponsored transaction %s (nonce: %d, to: %s)", signedTx.Hash().Hex(), nonce, to.Hex())
	return &PendingTx{Hash: signedTx.Hash(), Nonce: nonce, Tx: signedTx}, nil
}

// allocateNonce 取链上 pending nonce 与本地缓存中的较大者，调用方持有 nonceMu
func (g *Gateway) allocateNonce(ctx context.Context) (uint64, error) {
	pending, err := g.backend.PendingNonceAt(ctx, g.signer.Address())
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	if g.nonceKnown && g.nextNonce > pending {
		return g.nextNonce, nil
	}
	return pending, nil
}

// AwaitReceipt 轮询回执直到上链、超时或 ctx 取消
func (g *Gateway) AwaitReceipt(ctx context.Context, pending *PendingTx) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, pending.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: tx %s in block %v: %s",
					ErrTransactionReverted, pending.Hash.Hex(), receipt.BlockNumber, g.revertReason(pending, receipt))
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			lastErr = err
			logger.Debug("Receipt poll for %s failed: %v", pending.Hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: tx %s not mined within %s (last error: %v)",
					ErrConfirmationTimeout, pending.Hash.Hex(), g.opts.ReceiptTimeout, lastErr)
			}
			return nil, fmt.Errorf("%w: tx %s not mined within %s",
				ErrConfirmationTimeout, pending.Hash.Hex(), g.opts.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}

// revertReason 在回执所在区块重放调用以取得节点返回的失败原因
func (g *Gateway) revertReason(pending *PendingTx, receipt *types.Receipt) string {
	if pending.Tx == nil || receipt.BlockNumber == nil {
		return "execution reverted"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		From:     g.signer.Address(),
		To:       pending.Tx.To(),
		Gas:      pending.Tx.Gas(),
		GasPrice: pending.Tx.GasPrice(),
		Value:    pending.Tx.Value(),
		Data:     pending.Tx.Data(),
	}, receipt.BlockNumber)
	if err != nil {
		return err.Error()
	}
	return "execution reverted"
}

func (g *Gateway) fallback(what string, err error) {
	if g.opts.OnEstimationFallback != nil {
		g.opts.OnEstimationFallback(what, err)
	}
}
