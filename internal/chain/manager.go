package chain

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/blues/stamp/internal/config"
	"github.com/blues/stamp/internal/contract"
	"github.com/blues/stamp/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var supportedChainTypes = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}

// Manager 单链管理器：RPC 客户端与印章合约
type Manager struct {
	mu     sync.RWMutex
	client *ethclient.Client
	stamp  *contract.StampNFT
	config config.ChainConfig
}

// NewManager 创建单链管理器
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	if !slices.Contains(supportedChainTypes, cfg.ChainType) {
		return nil, fmt.Errorf("unsupported chain type %s, supported types: %v", cfg.ChainType, supportedChainTypes)
	}
	if !common.IsHexAddress(cfg.StampContract.Address) {
		return nil, fmt.Errorf("invalid stamp contract address: %q", cfg.StampContract.Address)
	}

	stamp, err := contract.LoadStampNFT(common.HexToAddress(cfg.StampContract.Address), cfg.StampContract.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stamp contract: %w", err)
	}

	client, err := dialClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	logger.Info("Chain manager ready (type: %s, id: %d, stamp contract: %s)", cfg.ChainType, cfg.ChainId, stamp.GetAddress().Hex())
	return &Manager{
		client: client,
		stamp:  stamp,
		config: cfg,
	}, nil
}

// dialClient 建立连接并校验节点链ID与配置一致
func dialClient(ctx context.Context, cfg config.ChainConfig) (*ethclient.Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	logger.Info("Creating %s client connection (RPC: %s)", cfg.ChainType, cfg.RpcUrl)
	client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.ChainType, err)
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}
	if chainId.Cmp(big.NewInt(cfg.ChainId)) != 0 {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: node reports %s, configured %d", chainId, cfg.ChainId)
	}

	return client, nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// GetStampContract 获取印章合约
func (m *Manager) GetStampContract() *contract.StampNFT {
	return m.stamp
}

// GetChainId 获取链ID
func (m *Manager) GetChainId() *big.Int {
	return big.NewInt(m.config.ChainId)
}

// GetStartBlock 获取合约部署区块号
func (m *Manager) GetStartBlock() uint64 {
	if m.config.StampContract.BlockNum < 0 {
		return 0
	}
	return uint64(m.config.StampContract.BlockNum)
}

// NewGateway 基于当前客户端创建链网关
func (m *Manager) NewGateway(signer TxSigner, onFallback func(what string, err error)) *Gateway {
	return NewGateway(m.GetClient(), signer, GatewayOptions{
		ReceiptTimeout:       m.config.ReceiptTimeout,
		PollInterval:         m.config.PollInterval,
		OnEstimationFallback: onFallback,
	})
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":     m.config.ChainType,
		"chain_id":       m.config.ChainId,
		"client_status":  "connected",
		"stamp_contract": m.stamp.GetAddress().Hex(),
	}

	if m.client == nil {
		health["client_status"] = "not_initialized"
		return health
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	blockNum, err := m.client.BlockNumber(ctx)
	if err != nil {
		health["client_status"] = "disconnected"
		return health
	}
	health["latest_block"] = blockNum
	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	logger.Info("Chain manager closed")
	return nil
}
