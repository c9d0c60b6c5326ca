package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/blues/stamp/internal/chain"
	"github.com/blues/stamp/internal/contract"
	"github.com/blues/stamp/internal/metrics"
	"github.com/blues/stamp/internal/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) EstimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	args := m.Called(ctx, to, data)
	return args.Get(0).(uint64)
}

func (m *mockGateway) CurrentGasPrice(ctx context.Context) *big.Int {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int)
}

func (m *mockGateway) Submit(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64, gasPrice *big.Int) (*chain.PendingTx, error) {
	args := m.Called(ctx, to, data, value, gasLimit, gasPrice)
	pending, _ := args.Get(0).(*chain.PendingTx)
	return pending, args.Error(1)
}

func (m *mockGateway) AwaitReceipt(ctx context.Context, pending *chain.PendingTx) (*types.Receipt, error) {
	args := m.Called(ctx, pending)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

var (
	stampAddress = common.HexToAddress("0x000000000000000000000000000000000000000C")
	transferSig  = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	zeroAddress  = common.Address{}
	gasPrice     = big.NewInt(2_000_000_000)
	pendingTx    = &chain.PendingTx{Hash: common.HexToHash("0xfeed"), Nonce: 1}
)

type RelaySuite struct {
	suite.Suite
	key     *ecdsa.PrivateKey
	user    common.Address
	gateway *mockGateway
	stamp   *contract.StampNFT
	relay   *Relay
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	s.key = key
	s.user = crypto.PubkeyToAddress(key.PublicKey)

	s.stamp, err = contract.NewStampNFT(stampAddress)
	s.Require().NoError(err)

	s.gateway = new(mockGateway)
	s.relay = New(s.gateway, s.stamp, metrics.New())
}

// request 构造 userAddress 签名过的请求
func (s *RelaySuite) request(data []byte, value string) SponsorshipRequest {
	call := &signature.CallData{To: stampAddress.Hex(), Data: hexutil.Encode(data), Value: value}
	parsed, err := call.Parse()
	s.Require().NoError(err)
	hash, err := signature.ComputeCallHash(parsed.To, parsed.Data, parsed.Value)
	s.Require().NoError(err)
	sig, err := crypto.Sign(signature.ComputeSignableDigest(hash).Bytes(), s.key)
	s.Require().NoError(err)
	sig[64] += 27

	return SponsorshipRequest{
		UserAddress:    s.user.Hex(),
		TargetContract: stampAddress.Hex(),
		FunctionData:   hexutil.Encode(data),
		UserSignature:  hexutil.Encode(sig),
		OriginalTxData: call,
	}
}

func (s *RelaySuite) expectSubmission(data []byte, receipt *types.Receipt, awaitErr error) {
	s.gateway.On("EstimateGas", mock.Anything, stampAddress, data).Return(uint64(120000)).Once()
	s.gateway.On("CurrentGasPrice", mock.Anything).Return(gasPrice).Once()
	s.gateway.On("Submit", mock.Anything, stampAddress, data,
		mock.MatchedBy(func(v *big.Int) bool { return v.Sign() == 0 }), uint64(120000), gasPrice).
		Return(pendingTx, nil).Once()
	s.gateway.On("AwaitReceipt", mock.Anything, pendingTx).Return(receipt, awaitErr).Once()
}

func transferLog(from, to common.Address, tokenId int64) *types.Log {
	return &types.Log{
		Address: stampAddress,
		Topics: []common.Hash{
			transferSig,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenId)),
		},
	}
}

func receiptWith(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            pendingTx.Hash,
		BlockNumber:       big.NewInt(100),
		GasUsed:           21000,
		EffectiveGasPrice: gasPrice,
		Logs:              logs,
	}
}

func (s *RelaySuite) TestEndToEndMint() {
	data := []byte{0xab, 0xc1, 0x23}
	s.expectSubmission(data, receiptWith(transferLog(zeroAddress, s.user, 7)), nil)

	result, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.Require().NoError(err)

	s.True(result.Success)
	s.Equal("7", result.StampId)
	s.Equal(pendingTx.Hash.Hex(), result.TransactionHash)
	s.Equal(uint64(100), result.BlockNumber)
	s.Equal("21000", result.GasUsed)
	s.Equal("2000000000", result.EffectiveGasPrice)
	s.Equal(contract.CallMint, result.Kind)
	s.gateway.AssertExpectations(s.T())
}

func (s *RelaySuite) TestPicksSecondOfThreeLogs() {
	data, err := s.stamp.EncodeMint("ipfs://stamp", s.user)
	s.Require().NoError(err)

	receipt := receiptWith(
		&types.Log{Address: stampAddress, Topics: []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))}},
		transferLog(zeroAddress, s.user, 42),
		&types.Log{Address: stampAddress, Topics: []common.Hash{crypto.Keccak256Hash([]byte("StampIssued(uint256)"))}},
	)
	s.expectSubmission(data, receipt, nil)

	result, err := s.relay.Sponsor(context.Background(), s.request(data, ""))
	s.Require().NoError(err)
	s.Equal("42", result.StampId)
}

func (s *RelaySuite) TestMintEventNotFound() {
	data, err := s.stamp.EncodeMint("ipfs://stamp", s.user)
	s.Require().NoError(err)
	s.expectSubmission(data, receiptWith(
		&types.Log{Address: stampAddress, Topics: []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))}},
	), nil)

	result, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.Nil(result)
	s.ErrorIs(err, ErrMintEventNotFound)
	s.Equal("MINT_EVENT_NOT_FOUND", ErrorCode(err))
}

func (s *RelaySuite) TestTamperedSignatureNeverSubmits() {
	data := []byte{0xab, 0xc1, 0x23}
	req := s.request(data, "0")
	raw, err := hexutil.Decode(req.UserSignature)
	s.Require().NoError(err)
	raw[10] ^= 0x01
	req.UserSignature = hexutil.Encode(raw)

	_, err = s.relay.Sponsor(context.Background(), req)
	s.ErrorIs(err, ErrSignatureMismatch)
	s.True(IsClientError(err))
	s.gateway.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.gateway.AssertNotCalled(s.T(), "EstimateGas", mock.Anything, mock.Anything, mock.Anything)
}

func (s *RelaySuite) TestSignatureFromOtherUserNeverSubmits() {
	data := []byte{0xab, 0xc1, 0x23}
	req := s.request(data, "0")
	other, err := crypto.GenerateKey()
	s.Require().NoError(err)
	req.UserAddress = crypto.PubkeyToAddress(other.PublicKey).Hex()

	_, err = s.relay.Sponsor(context.Background(), req)
	s.ErrorIs(err, ErrSignatureMismatch)
	s.gateway.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *RelaySuite) TestSignedValueIsBoundToCall() {
	data := []byte{0xab, 0xc1, 0x23}
	req := s.request(data, "0")
	req.OriginalTxData.Value = "1"

	_, err := s.relay.Sponsor(context.Background(), req)
	s.ErrorIs(err, ErrSignatureMismatch)
}

func (s *RelaySuite) TestMalformedRequests() {
	data := []byte{0xab, 0xc1, 0x23}
	cases := map[string]func(r *SponsorshipRequest){
		"missing user":          func(r *SponsorshipRequest) { r.UserAddress = "" },
		"missing original":      func(r *SponsorshipRequest) { r.OriginalTxData = nil },
		"missing signature":     func(r *SponsorshipRequest) { r.UserSignature = "" },
		"bad user address":      func(r *SponsorshipRequest) { r.UserAddress = "0x1234" },
		"bad function data":     func(r *SponsorshipRequest) { r.FunctionData = "abc123" },
		"short signature":       func(r *SponsorshipRequest) { r.UserSignature = "0x1234" },
		"diverging target":      func(r *SponsorshipRequest) { r.TargetContract = "0x00000000000000000000000000000000000000DD" },
		"diverging data":        func(r *SponsorshipRequest) { r.FunctionData = "0xabc124" },
		"negative value":        func(r *SponsorshipRequest) { r.OriginalTxData.Value = "-5" },
		"original to malformed": func(r *SponsorshipRequest) { r.OriginalTxData.To = "nothex" },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			req := s.request(data, "0")
			mutate(&req)
			_, err := s.relay.Sponsor(context.Background(), req)
			s.ErrorIs(err, ErrMalformedRequest)
		})
	}
	s.gateway.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *RelaySuite) TestForeignContractIsUnsupported() {
	foreign := common.HexToAddress("0x00000000000000000000000000000000000000DD")
	req := s.request([]byte{0x01}, "0")
	req.TargetContract = foreign.Hex()
	req.OriginalTxData.To = foreign.Hex()

	_, err := s.relay.Sponsor(context.Background(), req)
	s.ErrorIs(err, ErrUnsupportedCall)
	s.gateway.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *RelaySuite) TestRevertSurfacesExecutionFailure() {
	data := []byte{0xab, 0xc1, 0x23}
	reverted := receiptWith()
	reverted.Status = types.ReceiptStatusFailed
	s.expectSubmission(data, reverted, fmt.Errorf("%w: execution reverted: already minted", chain.ErrTransactionReverted))

	_, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.ErrorIs(err, ErrRelayExecutionFailed)
	s.ErrorIs(err, chain.ErrTransactionReverted)
	s.Contains(err.Error(), "already minted")
	s.Equal("TRANSACTION_REVERTED", ErrorCode(err))
}

func (s *RelaySuite) TestTimeoutIsDistinctFromRevert() {
	data := []byte{0xab, 0xc1, 0x23}
	s.expectSubmission(data, nil, fmt.Errorf("%w: tx not mined", chain.ErrConfirmationTimeout))

	_, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.ErrorIs(err, ErrRelayExecutionFailed)
	s.ErrorIs(err, chain.ErrConfirmationTimeout)
	s.NotErrorIs(err, chain.ErrTransactionReverted)
	s.Equal("CONFIRMATION_TIMEOUT", ErrorCode(err))
}

func (s *RelaySuite) TestSubmitFailure() {
	data := []byte{0xab, 0xc1, 0x23}
	s.gateway.On("EstimateGas", mock.Anything, stampAddress, data).Return(chain.FallbackGasLimit)
	s.gateway.On("CurrentGasPrice", mock.Anything).Return(gasPrice)
	s.gateway.On("Submit", mock.Anything, stampAddress, data, mock.Anything, chain.FallbackGasLimit, gasPrice).
		Return(nil, fmt.Errorf("%w: insufficient funds", chain.ErrSubmitFailed))

	_, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.ErrorIs(err, ErrRelayExecutionFailed)
	s.ErrorIs(err, chain.ErrSubmitFailed)
	s.gateway.AssertNotCalled(s.T(), "AwaitReceipt", mock.Anything, mock.Anything)
}

func (s *RelaySuite) TestBurnReportsBurnedStampIds() {
	data, err := s.stamp.EncodeBurn([]*big.Int{big.NewInt(7), big.NewInt(9)})
	s.Require().NoError(err)
	s.expectSubmission(data, receiptWith(
		transferLog(s.user, zeroAddress, 7),
		transferLog(s.user, zeroAddress, 9),
	), nil)

	result, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.Require().NoError(err)
	s.Equal(contract.CallBurn, result.Kind)
	s.Equal([]string{"7", "9"}, result.BurnedStampIds)
	s.Empty(result.StampId)
}

func (s *RelaySuite) TestBurnWithoutBurnEventFails() {
	data, err := s.stamp.EncodeBurn([]*big.Int{big.NewInt(7)})
	s.Require().NoError(err)
	s.expectSubmission(data, receiptWith(), nil)

	_, err = s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.ErrorIs(err, ErrBurnEventNotFound)
}

func (s *RelaySuite) TestMalformedTransferFailsLoudly() {
	data := []byte{0xab, 0xc1, 0x23}
	malformed := transferLog(zeroAddress, s.user, 7)
	malformed.Topics = malformed.Topics[:2]
	s.expectSubmission(data, receiptWith(malformed), nil)

	_, err := s.relay.Sponsor(context.Background(), s.request(data, "0"))
	s.ErrorIs(err, ErrMintEventNotFound)
	s.True(errors.Is(err, contract.ErrMalformedEvent))
}
