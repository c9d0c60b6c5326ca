package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxSigner 交易签名能力。中继钱包只通过该接口暴露，
// 可以替换为多密钥或硬件签名实现。
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner 托管私钥签名器
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer
}

// NewKeySigner 从十六进制私钥创建签名器
func NewKeySigner(privateKeyHex string, chainId *big.Int) (*KeySigner, error) {
	if chainId == nil || chainId.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %v", chainId)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return NewKeySignerFromKey(privateKey, chainId), nil
}

// NewKeySignerFromKey 从已解析私钥创建签名器
func NewKeySignerFromKey(privateKey *ecdsa.PrivateKey, chainId *big.Int) *KeySigner {
	return &KeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		signer:     types.LatestSignerForChainID(chainId),
	}
}

// Address 获取账户地址
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx 签名交易
func (s *KeySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.signer, s.privateKey)
}
