package scheduler

import (
	"context"
	"time"

	"github.com/blues/stamp/internal/logger"
	"github.com/blues/stamp/internal/metrics"
	"github.com/go-co-op/gocron/v2"
)

const defaultExpiryInterval = 5 * time.Minute

// Expirer 过期处理能力，*logic.StampLogic 满足该接口
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// StampExpiryJob 印章过期任务：active 且超过 validUntil 的记录标记为 expired
type StampExpiryJob struct {
	expirer  Expirer
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewStampExpiryJob 创建印章过期任务，intervalSeconds <= 0 时使用默认间隔
func NewStampExpiryJob(expirer Expirer, intervalSeconds int, m *metrics.Metrics) *StampExpiryJob {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	return &StampExpiryJob{
		expirer:  expirer,
		interval: interval,
		metrics:  m,
		now:      time.Now,
	}
}

// GetName 获取任务名称
func (j *StampExpiryJob) GetName() string {
	return "stamp_expiry"
}

// GetSchedule 获取调度配置
func (j *StampExpiryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *StampExpiryJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	expired, err := j.expirer.ExpireOverdue(ctx, j.now())
	if err != nil {
		logger.Error("Failed to expire overdue stamps: %v", err)
		return
	}

	j.metrics.StampsExpired(expired)
	if expired > 0 {
		logger.Info("Stamp expiry completed. Expired %d stamps", expired)
	} else {
		logger.Debug("Stamp expiry completed. Nothing to expire")
	}
}
