package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stamp"

// Metrics 服务指标，使用独立 registry。nil 接收者上的方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	relayRequests       *prometheus.CounterVec
	relayGasUsed        *prometheus.CounterVec
	estimationFallbacks *prometheus.CounterVec
	burnsReconciled     prometheus.Counter
	stampsExpired       prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpDurations       *prometheus.HistogramVec
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Sponsorship requests by call kind and outcome.",
		}, []string{"kind", "outcome"}),
		relayGasUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "gas_used_total",
			Help:      "Gas consumed by sponsored transactions.",
		}, []string{"kind"}),
		estimationFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "estimation_fallbacks_total",
			Help:      "Gas limit or gas price estimations that fell back to fixed defaults.",
		}, []string{"kind"}),
		burnsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "burns_reconciled_total",
			Help:      "Ledger records marked used from observed on-chain burns.",
		}),
		stampsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "expired_total",
			Help:      "Ledger records moved from active to expired.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		m.relayRequests,
		m.relayGasUsed,
		m.estimationFallbacks,
		m.burnsReconciled,
		m.stampsExpired,
		m.httpRequests,
		m.httpDurations,
	)
	return m
}

// Registry 获取 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RelayOutcome 记录一次代付结果
func (m *Metrics) RelayOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(kind, outcome).Inc()
}

// RelayGasUsed 累计代付 gas
func (m *Metrics) RelayGasUsed(kind string, gasUsed uint64) {
	if m == nil {
		return
	}
	m.relayGasUsed.WithLabelValues(kind).Add(float64(gasUsed))
}

// EstimationFallback 记录估算回退，kind 为 gas 或 price
func (m *Metrics) EstimationFallback(kind string) {
	if m == nil {
		return
	}
	m.estimationFallbacks.WithLabelValues(kind).Inc()
}

// BurnsReconciled 累计监控同步的销毁记录数
func (m *Metrics) BurnsReconciled(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.burnsReconciled.Add(float64(n))
}

// StampsExpired 累计过期记录数
func (m *Metrics) StampsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.stampsExpired.Add(float64(n))
}

// GinMiddleware 请求计数与耗时
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDurations.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
