// Package monitoring 定义了服务暴露的 Prometheus 指标。
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexingTotal 索引调用次数，按结果状态区分。
	IndexingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_indexing_total",
			Help: "Total number of indexing runs",
		},
		[]string{"status"},
	)

	// IndexedChunks 写入向量库的分块数。
	IndexedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_indexed_chunks_total",
			Help: "Total number of chunks written to tenant collections",
		},
	)

	// IndexingDuration 单次索引耗时。
	IndexingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_indexing_duration_seconds",
			Help:    "Indexing run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// QueryTotal 查询次数，按激活分支组合与结果区分。
	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_query_total",
			Help: "Total number of routed queries",
		},
		[]string{"targets", "status"},
	)

	// QueryDuration 查询耗时。
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"targets"},
	)

	// SQLVerdicts SQL 安全校验结果，按层与结论区分。
	SQLVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_sql_verdicts_total",
			Help: "SQL safety verdicts",
		},
		[]string{"layer", "verdict"},
	)

	// RegistryTenants 注册表中缓存的租户数。
	RegistryTenants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rag_registry_tenants",
			Help: "Number of tenants cached in the resource registry",
		},
	)

	// TaskAttempts 索引任务执行次数，按结果区分。
	TaskAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_task_attempts_total",
			Help: "Index task attempts by outcome",
		},
		[]string{"transport", "outcome"},
	)

	// BreakerState 熔断器状态：0 closed, 1 half-open, 2 open。
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rag_breaker_state",
			Help: "Circuit breaker state",
		},
		[]string{"name"},
	)
)
