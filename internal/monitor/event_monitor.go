package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blues/stamp/internal/chain"
	"github.com/blues/stamp/internal/contract"
	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/metrics"
	"github.com/blues/stamp/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultInterval   = 60 * time.Second
	defaultBatchSize  = uint64(500)
	defaultWorkers    = 4
	maxBackoff        = 5 * time.Minute
	backoffStep       = 10 * time.Second
	maxLinearRetries  = 5
	eventNameMint     = "mint"
	eventNameBurn     = "burn"
	eventNameTransfer = "transfer"
)

// Ledger 将链上销毁与转移同步到账本，*logic.StampLogic 满足该接口
type Ledger interface {
	MarkBurned(ctx context.Context, stampIds []string) (int64, error)
	TransferOwner(ctx context.Context, stampId, newOwner string) (int64, error)
}

// Options 监控参数
type Options struct {
	Interval   time.Duration
	BatchSize  uint64
	Workers    int
	StartBlock uint64
}

// EventMonitor 扫描印章合约 Transfer 事件，把链上销毁同步为账本的 used 状态，
// 把持有人之间的转移同步为新的 owner_address
type EventMonitor struct {
	block   *chain.Block
	stamp   *contract.StampNFT
	db      *gorm.DB
	ledger  Ledger
	metrics *metrics.Metrics
	opts    Options
	pool    *ants.Pool

	mu         sync.RWMutex // 保护 nextBlock、retryCount
	nextBlock  uint64
	retryCount int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventMonitor 创建事件监控器
func NewEventMonitor(reader chain.LogReader, stamp *contract.StampNFT, db *gorm.DB, ledger Ledger, m *metrics.Metrics, opts Options) (*EventMonitor, error) {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor pool: %w", err)
	}

	return &EventMonitor{
		block:   chain.NewBlock(reader),
		stamp:   stamp,
		db:      db,
		ledger:  ledger,
		metrics: m,
		opts:    opts,
		pool:    pool,
	}, nil
}

// Start 检查连接、确定起始区块并启动监控循环
func (m *EventMonitor) Start(ctx context.Context) error {
	logger.Info("Starting stamp event monitor for contract %s", m.stamp.GetAddress().Hex())

	currentBlock, err := m.block.GetCurrentBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain: %w", err)
	}
	logger.Info("Connected to blockchain, current block: %d", currentBlock)

	startBlock, err := m.resolveStartBlock(ctx)
	if err != nil {
		return err
	}
	m.setNextBlock(startBlock)
	logger.Info("Starting monitor from block %d", startBlock)

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)

	return nil
}

// Stop 停止监控并等待当前批次结束
func (m *EventMonitor) Stop() {
	logger.Info("Stopping stamp event monitor")
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.pool.Release()
}

func (m *EventMonitor) loop(ctx context.Context) {
	defer close(m.done)

	timer := time.NewTimer(m.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitor stopped")
			return
		case <-timer.C:
			delay := m.opts.Interval
			if err := m.SyncOnce(ctx); err != nil {
				delay = m.handleError(err)
			} else {
				m.resetRetry()
			}
			timer.Reset(delay)
		}
	}
}

// SyncOnce 先补处理上次遗留的事件，再从游标处理到当前区块，每个窗口成功后推进游标
func (m *EventMonitor) SyncOnce(ctx context.Context) error {
	if err := m.applyPending(ctx); err != nil {
		return fmt.Errorf("failed to apply pending events: %w", err)
	}

	currentBlock, err := m.block.GetCurrentBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current block number: %w", err)
	}

	fromBlock := m.NextBlock()
	if fromBlock > currentBlock {
		logger.Debug("No new blocks (next %d, current %d)", fromBlock, currentBlock)
		return nil
	}

	for from := fromBlock; from <= currentBlock; from += m.opts.BatchSize {
		to := min(from+m.opts.BatchSize-1, currentBlock)

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.processWindow(ctx, from, to); err != nil {
			return fmt.Errorf("error processing blocks %d-%d: %w", from, to, err)
		}
		m.setNextBlock(to + 1)
	}
	return nil
}

// processWindow 拉取窗口内日志，按交易分组并发入库，最后统一同步到账本
func (m *EventMonitor) processWindow(ctx context.Context, fromBlock, toBlock uint64) error {
	logs, err := m.block.GetBlockLogs(ctx, m.stamp.GetAddress(), m.stamp.TransferTopic(), fromBlock, toBlock)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		logger.Debug("No logs found for blocks %d-%d", fromBlock, toBlock)
		return nil
	}
	logger.Debug("Found %d logs for blocks %d-%d", len(logs), fromBlock, toBlock)

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
		errs     []error
	)
	for txHash, txLogs := range groupLogsByTx(logs) {
		wg.Add(1)
		err := m.pool.Submit(func() {
			defer wg.Done()
			if err := m.processTxLogs(ctx, txLogs); err != nil {
				resultMu.Lock()
				errs = append(errs, fmt.Errorf("tx %s: %w", txHash.Hex(), err))
				resultMu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			resultMu.Lock()
			errs = append(errs, fmt.Errorf("failed to submit task to pool: %w", err))
			resultMu.Unlock()
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return m.applyPending(ctx)
}

// applyPending 将未处理的销毁、转移事件按链上顺序写入账本，成功后标记 processed。
// 入库与同步之间失败（包括进程重启）时，遗留记录在下一次同步时重放。
func (m *EventMonitor) applyPending(ctx context.Context) error {
	var pending []model.ChainEventModel
	if err := m.db.WithContext(ctx).
		Where("processed = ? AND event_name IN ?", false, []string{eventNameBurn, eventNameTransfer}).
		Order("block_num, log_index").
		Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to load pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		burned  []string
		handled = make([]int64, 0, len(pending))
	)
	for _, event := range pending {
		if event.EventName == eventNameTransfer {
			if _, err := m.ledger.TransferOwner(ctx, event.TokenId, event.ToAddress); err != nil {
				return fmt.Errorf("failed to transfer stamp %s: %w", event.TokenId, err)
			}
		} else {
			burned = append(burned, event.TokenId)
		}
		handled = append(handled, event.Id)
	}

	var updated int64
	if len(burned) > 0 {
		sort.Strings(burned)
		n, err := m.ledger.MarkBurned(ctx, burned)
		if err != nil {
			return fmt.Errorf("failed to mark burned stamps: %w", err)
		}
		updated = n
	}

	if err := m.db.WithContext(ctx).Model(&model.ChainEventModel{}).
		Where("id IN ?", handled).
		Update("processed", true).Error; err != nil {
		return fmt.Errorf("failed to flag processed events: %w", err)
	}

	m.metrics.BurnsReconciled(updated)
	logger.Info("Applied %d pending events, reconciled %d burned stamps (%d burn events)", len(handled), updated, len(burned))
	return nil
}

// processTxLogs 保存一笔交易内的 Transfer 事件，铸造事件无需同步直接标记已处理
func (m *EventMonitor) processTxLogs(ctx context.Context, logs []types.Log) error {
	for i := range logs {
		event, err := m.stamp.ParseTransfer(&logs[i])
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		record := &model.ChainEventModel{
			ContractAddress: m.stamp.GetAddress().Hex(),
			EventName:       eventName(event),
			TxHash:          event.TxHash.Hex(),
			LogIndex:        int64(event.LogIndex),
			BlockNum:        int64(event.BlockNum),
			FromAddress:     event.From.Hex(),
			ToAddress:       event.To.Hex(),
			TokenId:         event.TokenId.String(),
			Processed:       event.IsMint(),
		}
		// 重复扫描同一窗口时 (tx_hash, log_index) 冲突直接忽略
		if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error; err != nil {
			return fmt.Errorf("failed to save event log %d: %w", event.LogIndex, err)
		}
		logger.Debug("Stored %s event for token %s at block %d", record.EventName, record.TokenId, event.BlockNum)
	}
	return nil
}

// resolveStartBlock 取配置起始区块与已入库最大区块的下一块中的较大者
func (m *EventMonitor) resolveStartBlock(ctx context.Context) (uint64, error) {
	var maxProcessed int64
	if err := m.db.WithContext(ctx).Model(&model.ChainEventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxProcessed).Error; err != nil {
		return 0, fmt.Errorf("failed to get max processed block number: %w", err)
	}

	start := m.opts.StartBlock
	if maxProcessed > 0 && uint64(maxProcessed)+1 > start {
		start = uint64(maxProcessed) + 1
	}
	logger.Debug("Resolved start block %d (config: %d, db: %d)", start, m.opts.StartBlock, maxProcessed)
	return start, nil
}

// handleError 记录错误并返回下次执行前的退避时间
func (m *EventMonitor) handleError(err error) time.Duration {
	m.mu.Lock()
	m.retryCount++
	retries := m.retryCount
	m.mu.Unlock()

	backoff := maxBackoff
	if retries <= maxLinearRetries {
		backoff = time.Duration(retries) * backoffStep
	}
	logger.Error("Monitor encountered error (retry %d, next in %s): %v", retries, backoff, err)
	return backoff
}

func (m *EventMonitor) resetRetry() {
	m.mu.Lock()
	m.retryCount = 0
	m.mu.Unlock()
}

// NextBlock 下一个待处理区块
func (m *EventMonitor) NextBlock() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextBlock
}

func (m *EventMonitor) setNextBlock(blockNum uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBlock = blockNum
}

// GetStatus 获取监控状态
func (m *EventMonitor) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool := map[string]interface{}{
		"running": m.pool.Running(),
		"free":    m.pool.Free(),
		"cap":     m.pool.Cap(),
	}
	return map[string]interface{}{
		"next_block":  m.nextBlock,
		"retry_count": m.retryCount,
		"pool":        pool,
	}
}

func eventName(event *contract.TransferEvent) string {
	switch {
	case event.IsMint():
		return eventNameMint
	case event.IsBurn():
		return eventNameBurn
	default:
		return eventNameTransfer
	}
}

// groupLogsByTx 按交易哈希分组日志
func groupLogsByTx(logs []types.Log) map[common.Hash][]types.Log {
	logsByTx := make(map[common.Hash][]types.Log)
	for _, log := range logs {
		logsByTx[log.TxHash] = append(logsByTx[log.TxHash], log)
	}
	return logsByTx
}
