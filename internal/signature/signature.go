package signature

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature 签名格式错误（长度或 recovery id 非法）
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureLength r(32) + s(32) + v(1)
const SignatureLength = 65

// callArgumentsV1 调用承诺编码 v1: abi.encode(address to, bytes data, uint256 value)。
// 钱包端签名依赖该编码，字段顺序或类型变更必须引入新版本。
var callArgumentsV1 = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("bytes")},
	{Type: mustType("uint256")},
}

// CallData 用户授权的调用三元组
type CallData struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

// Call 解析后的调用三元组
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Parse 解析十六进制表示的调用三元组
func (c CallData) Parse() (*Call, error) {
	if !common.IsHexAddress(c.To) {
		return nil, fmt.Errorf("invalid to address: %q", c.To)
	}
	data, err := hexutil.Decode(c.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid call data: %w", err)
	}
	value, err := ParseValue(c.Value)
	if err != nil {
		return nil, err
	}
	return &Call{
		To:    common.HexToAddress(c.To),
		Data:  data,
		Value: value,
	}, nil
}

// ParseValue 解析金额：空为0，0x 前缀为十六进制，否则十进制
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}

	var (
		value *big.Int
		ok    bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		value, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		value, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid value: %q", s)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative value: %q", s)
	}
	if value.BitLen() > 256 {
		return nil, fmt.Errorf("value overflows uint256: %q", s)
	}
	return value, nil
}

// ComputeCallHash 计算调用三元组的承诺哈希 keccak256(abi.encode(to, data, value))
func ComputeCallHash(to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	encoded, err := callArgumentsV1.Pack(to, data, value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode call: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// ComputeSignableDigest 加上 EIP-191 个人消息前缀，钱包对该摘要签名
func ComputeSignableDigest(hash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(hash.Bytes()))
}

// RecoverSigner 从签名恢复签名者地址，是否授权由调用方判断
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)

	v := normalized[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	normalized[64] = v

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: r/s out of range", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify 重新计算哈希与摘要并恢复签名者，与 userAddress 比较（不区分大小写）。
// 任何解析或恢复错误都视为验证失败。
func Verify(userAddress string, sigHex string, call CallData) bool {
	if !common.IsHexAddress(userAddress) {
		return false
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return false
	}
	parsed, err := call.Parse()
	if err != nil {
		return false
	}
	return VerifyCall(common.HexToAddress(userAddress), sig, parsed)
}

// VerifyCall 使用已解析的参数验证
func VerifyCall(user common.Address, sig []byte, call *Call) bool {
	hash, err := ComputeCallHash(call.To, call.Data, call.Value)
	if err != nil {
		return false
	}
	signer, err := RecoverSigner(ComputeSignableDigest(hash), sig)
	if err != nil {
		return false
	}
	return signer == user
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
