package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrMalformedEvent 日志带有 Transfer 签名但无法解码
var ErrMalformedEvent = errors.New("malformed transfer event")

// StampNFTABI 印章NFT合约ABI（中继只需要 mint、burn 和 Transfer）
const StampNFTABI = `[
	{
		"inputs": [
			{"internalType": "string", "name": "tokenURI", "type": "string"},
			{"internalType": "address", "name": "owner", "type": "address"}
		],
		"name": "mint",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256[]", "name": "tokenIds", "type": "uint256[]"}
		],
		"name": "burn",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "from", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

// CallKind 调用类型
type CallKind string

const (
	CallUnknown CallKind = "unknown"
	CallMint    CallKind = "mint"
	CallBurn    CallKind = "burn"
)

// TransferEvent 解码后的 Transfer 事件
type TransferEvent struct {
	From     common.Address
	To       common.Address
	TokenId  *big.Int
	TxHash   common.Hash
	BlockNum uint64
	LogIndex uint
}

// IsMint 从零地址转出即为铸造
func (e *TransferEvent) IsMint() bool {
	return e.From == (common.Address{})
}

// IsBurn 转入零地址即为销毁
func (e *TransferEvent) IsBurn() bool {
	return e.To == (common.Address{})
}

// StampNFT 印章NFT合约包装器
type StampNFT struct {
	address common.Address
	abi     abi.ABI
}

// NewStampNFT 使用内置ABI创建合约实例
func NewStampNFT(address common.Address) (*StampNFT, error) {
	parsedABI, err := abi.JSON(strings.NewReader(StampNFTABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stamp ABI: %w", err)
	}
	return newStampNFT(address, parsedABI)
}

// LoadStampNFT 从文件加载ABI，文件可以是ABI数组或完整编译输出
func LoadStampNFT(address common.Address, abiPath string) (*StampNFT, error) {
	if abiPath == "" {
		return NewStampNFT(address)
	}

	abiData, err := os.ReadFile(abiPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load ABI from %s: %w", abiPath, err)
	}

	// 尝试解析为完整的编译输出文件
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}

	var parsedABI abi.ABI
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsedABI, err = abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return nil, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
	} else {
		parsedABI, err = abi.JSON(bytes.NewReader(abiData))
		if err != nil {
			return nil, fmt.Errorf("failed to parse ABI: %w", err)
		}
	}

	return newStampNFT(address, parsedABI)
}

func newStampNFT(address common.Address, parsedABI abi.ABI) (*StampNFT, error) {
	for _, method := range []string{"mint", "burn"} {
		if _, ok := parsedABI.Methods[method]; !ok {
			return nil, fmt.Errorf("stamp ABI missing method %s", method)
		}
	}
	if _, ok := parsedABI.Events["Transfer"]; !ok {
		return nil, fmt.Errorf("stamp ABI missing Transfer event")
	}
	return &StampNFT{address: address, abi: parsedABI}, nil
}

// GetAddress 获取合约地址
func (s *StampNFT) GetAddress() common.Address {
	return s.address
}

// TransferTopic Transfer 事件签名哈希
func (s *StampNFT) TransferTopic() common.Hash {
	return s.abi.Events["Transfer"].ID
}

// Classify 根据4字节选择器判断调用类型
func (s *StampNFT) Classify(data []byte) CallKind {
	if len(data) < 4 {
		return CallUnknown
	}
	method, err := s.abi.MethodById(data[:4])
	if err != nil {
		return CallUnknown
	}
	switch method.Name {
	case "mint":
		return CallMint
	case "burn":
		return CallBurn
	default:
		return CallUnknown
	}
}

// EncodeMint 编码 mint(tokenURI, owner)
func (s *StampNFT) EncodeMint(tokenURI string, owner common.Address) ([]byte, error) {
	return s.abi.Pack("mint", tokenURI, owner)
}

// EncodeBurn 编码 burn(tokenIds)
func (s *StampNFT) EncodeBurn(tokenIds []*big.Int) ([]byte, error) {
	return s.abi.Pack("burn", tokenIds)
}

// DecodeBurnIds 解码 burn 调用中的 tokenIds
func (s *StampNFT) DecodeBurnIds(data []byte) ([]*big.Int, error) {
	if s.Classify(data) != CallBurn {
		return nil, fmt.Errorf("not a burn call")
	}
	values, err := s.abi.Methods["burn"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack burn arguments: %w", err)
	}
	ids, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected burn argument type %T", values[0])
	}
	return ids, nil
}

// ParseTransfer 解析 Transfer 日志。签名不匹配返回 (nil, nil)；
// 签名匹配但主题数量错误返回 ErrMalformedEvent。
func (s *StampNFT) ParseTransfer(log *types.Log) (*TransferEvent, error) {
	if log == nil || len(log.Topics) == 0 || log.Topics[0] != s.TransferTopic() {
		return nil, nil
	}
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("%w: tx %s log %d has %d topics", ErrMalformedEvent, log.TxHash.Hex(), log.Index, len(log.Topics))
	}

	return &TransferEvent{
		From:     common.BytesToAddress(log.Topics[1].Bytes()),
		To:       common.BytesToAddress(log.Topics[2].Bytes()),
		TokenId:  new(big.Int).SetBytes(log.Topics[3].Bytes()),
		TxHash:   log.TxHash,
		BlockNum: log.BlockNumber,
		LogIndex: log.Index,
	}, nil
}

// FindMintEvent 线性扫描回执日志，返回本合约发出的第一个铸造 Transfer
func (s *StampNFT) FindMintEvent(logs []*types.Log) (*TransferEvent, error) {
	for _, log := range logs {
		if log == nil || log.Address != s.address {
			continue
		}
		event, err := s.ParseTransfer(log)
		if err != nil {
			return nil, err
		}
		if event != nil && event.IsMint() {
			return event, nil
		}
	}
	return nil, nil
}

// FindBurnEvents 返回本合约发出的全部销毁 Transfer
func (s *StampNFT) FindBurnEvents(logs []*types.Log) ([]*TransferEvent, error) {
	var events []*TransferEvent
	for _, log := range logs {
		if log == nil || log.Address != s.address {
			continue
		}
		event, err := s.ParseTransfer(log)
		if err != nil {
			return nil, err
		}
		if event != nil && event.IsBurn() {
			events = append(events, event)
		}
	}
	return events, nil
}
