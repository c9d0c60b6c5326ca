package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	estimate    uint64
	estimateErr error
	gasPrice    *big.Int
	gasPriceErr error
	nonce       uint64
	sendErr     error
	receipts    map[common.Hash]*types.Receipt
	receiptErr  error
	callErr     error

	sent        []*types.Transaction
	receiptPoll int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: make(map[common.Hash]*types.Receipt)}
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptPoll++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func newTestGateway(t *testing.T, backend *fakeBackend) *Gateway {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewGateway(backend, NewKeySignerFromKey(key, big.NewInt(11155111)), GatewayOptions{
		ReceiptTimeout: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
}

var target = common.HexToAddress("0x00000000000000000000000000000000000000C0")

func TestEstimateGasAddsMargin(t *testing.T) {
	backend := newFakeBackend()
	backend.estimate = 100000
	gateway := newTestGateway(t, backend)

	assert.Equal(t, uint64(120000), gateway.EstimateGas(context.Background(), target, []byte{1}))
}

func TestEstimateGasFallsBackToFixedConstant(t *testing.T) {
	backend := newFakeBackend()
	backend.estimate = 999
	backend.estimateErr = errors.New("execution reverted")
	gateway := newTestGateway(t, backend)

	var fallbacks []string
	gateway.opts.OnEstimationFallback = func(what string, err error) { fallbacks = append(fallbacks, what) }

	assert.Equal(t, uint64(200000), gateway.EstimateGas(context.Background(), target, []byte{1}))
	assert.Equal(t, []string{"gas"}, fallbacks)
}

func TestCurrentGasPrice(t *testing.T) {
	backend := newFakeBackend()
	backend.gasPrice = big.NewInt(3_000_000_000)
	gateway := newTestGateway(t, backend)
	assert.Equal(t, "3000000000", gateway.CurrentGasPrice(context.Background()).String())

	backend.gasPrice = nil
	backend.gasPriceErr = errors.New("method not found")
	assert.Equal(t, "1000000000", gateway.CurrentGasPrice(context.Background()).String())

	backend.gasPriceErr = nil
	backend.gasPrice = big.NewInt(0)
	assert.Equal(t, "1000000000", gateway.CurrentGasPrice(context.Background()).String())
}

func TestSubmitSignsWithRelayKeyAndAdvancesNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 5
	gateway := newTestGateway(t, backend)
	ctx := context.Background()

	first, err := gateway.Submit(ctx, target, []byte{0xab}, nil, 21000, big.NewInt(1))
	require.NoError(t, err)
	second, err := gateway.Submit(ctx, target, []byte{0xab}, big.NewInt(2), 21000, big.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), first.Nonce)
	assert.Equal(t, uint64(6), second.Nonce)
	require.Len(t, backend.sent, 2)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), backend.sent[0])
	require.NoError(t, err)
	assert.Equal(t, gateway.RelayAddress(), sender)
	assert.Equal(t, target, *backend.sent[1].To())
	assert.Equal(t, "2", backend.sent[1].Value().String())
	assert.Equal(t, "0", backend.sent[0].Value().String())
}

func TestSubmitConcurrentCallsGetDistinctNonces(t *testing.T) {
	backend := newFakeBackend()
	gateway := newTestGateway(t, backend)

	const n = 20
	nonces := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
			if assert.NoError(t, err) {
				nonces <- pending.Nonce
			}
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for nonce := range nonces {
		assert.False(t, seen[nonce], "nonce %d reused", nonce)
		seen[nonce] = true
	}
	assert.Len(t, seen, n)
}

func TestSubmitFailureDropsCachedNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 3
	gateway := newTestGateway(t, backend)
	ctx := context.Background()

	_, err := gateway.Submit(ctx, target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)

	backend.sendErr = errors.New("insufficient funds for gas * price + value")
	_, err = gateway.Submit(ctx, target, nil, nil, 21000, big.NewInt(1))
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Contains(t, err.Error(), "insufficient funds")

	backend.sendErr = nil
	pending, err := gateway.Submit(ctx, target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pending.Nonce)
}

func TestAwaitReceiptReturnsMinedReceipt(t *testing.T) {
	backend := newFakeBackend()
	gateway := newTestGateway(t, backend)

	pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)

	backend.mu.Lock()
	backend.receipts[pending.Hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21000, BlockNumber: big.NewInt(10)}
	backend.mu.Unlock()

	receipt, err := gateway.AwaitReceipt(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), receipt.GasUsed)
}

func TestAwaitReceiptKeepsPollingUntilMined(t *testing.T) {
	backend := newFakeBackend()
	gateway := newTestGateway(t, backend)

	pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)

	go func() {
		time.Sleep(40 * time.Millisecond)
		backend.mu.Lock()
		backend.receipts[pending.Hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
		backend.mu.Unlock()
	}()

	_, err = gateway.AwaitReceipt(context.Background(), pending)
	require.NoError(t, err)
	assert.Greater(t, backend.receiptPoll, 1)
}

func TestAwaitReceiptRevertIsDistinctFromTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = errors.New("execution reverted: already minted")
	gateway := newTestGateway(t, backend)

	pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)
	backend.receipts[pending.Hash] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)}

	receipt, err := gateway.AwaitReceipt(context.Background(), pending)
	require.NotNil(t, receipt)
	assert.ErrorIs(t, err, ErrTransactionReverted)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout)
	assert.Contains(t, err.Error(), "already minted")
}

func TestAwaitReceiptTimesOut(t *testing.T) {
	backend := newFakeBackend()
	gateway := newTestGateway(t, backend)

	pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)

	receipt, err := gateway.AwaitReceipt(context.Background(), pending)
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.NotErrorIs(t, err, ErrTransactionReverted)
}

func TestAwaitReceiptTimeoutReportsLastRPCError(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErr = errors.New("connection refused")
	gateway := newTestGateway(t, backend)

	pending, err := gateway.Submit(context.Background(), target, nil, nil, 21000, big.NewInt(1))
	require.NoError(t, err)

	_, err = gateway.AwaitReceipt(context.Background(), pending)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewKeySigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	signer, err := NewKeySigner("0x"+hexKey, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	_, err = NewKeySigner("nothex", big.NewInt(1))
	assert.Error(t, err)
	_, err = NewKeySigner(hexKey, nil)
	assert.Error(t, err)
}
