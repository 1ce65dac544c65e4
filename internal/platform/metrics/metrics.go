package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Prometheus 的 registry 不允许重复注册同名指标，否则直接 panic，所以用 once 保护。
	once sync.Once

	// HTTPRequestsTotal：累计请求数。
	//
	// labels：
	// - method：HTTP 方法
	// - route：路由模板（例如 /api/urls/:shortCode），不要用真实 path，否则 label 基数无限
	// - status：HTTP 状态码字符串
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP请求的总数",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds：请求耗时分布，用来算 P95/P99。
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPInflightRequests：当前正在处理中的请求数。
	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// ShortlinkRedirects：按解析结果统计跳转（resolved/not_found/expired/error）。
	ShortlinkRedirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_redirects_total",
			Help: "Short code resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// ShortenTotal：创建短链的结果（generated/custom/invalid/code_taken/exhausted/error）。
	ShortenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_shorten_total",
			Help: "Shorten requests by result.",
		},
		[]string{"result"},
	)

	// CodeCollisions：生成短码的冲突次数，source=filter 表示被布隆过滤器提前拦下。
	CodeCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_code_collisions_total",
			Help: "Generated code collisions by detection source.",
		},
		[]string{"source"},
	)

	// CacheOperations：两级缓存命中情况，layer=l1/l2，result=hit/hit_negative/miss。
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlink_cache_operations_total",
			Help: "Shortlink cache lookups by layer and result.",
		},
		[]string{"layer", "result"},
	)

	PurgedLinks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_purged_total",
			Help: "Expired short links removed by the sweeper.",
		},
	)

	// ClickEventsDropped：点击明细队列满时被丢弃的事件数（计数器本身不受影响）。
	ClickEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlink_click_events_dropped_total",
			Help: "Click detail events dropped because the collector buffer was full.",
		},
	)
)

// Init 注册指标：只允许注册一次（否则 panic: duplicate metrics collector registration）
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			ShortlinkRedirects,
			ShortenTotal,
			CodeCollisions,
			CacheOperations,
			PurgedLinks,
			ClickEventsDropped,
		)
	})
}
