// Package aegobserve 暴露 Prometheus 指标
package aegobserve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataaegis_http_request_duration_seconds",
		Help:    "HTTP 请求耗时分布",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	queryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaegis_queries_total",
		Help: "查询总数，按后端类型与结局分类",
	}, []string{"kind", "outcome"})

	queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataaegis_query_duration_seconds",
		Help:    "端到端查询耗时分布（接收到规范化完成）",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	guardRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaegis_guard_rejections_total",
		Help: "安全守卫拒绝次数，按方言分类",
	}, []string{"dialect"})

	schemaCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataaegis_schema_cache_hits_total",
		Help: "结构快照缓存命中数",
	})
	schemaCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataaegis_schema_cache_misses_total",
		Help: "结构快照缓存未命中数",
	})

	backpressureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataaegis_backpressure_total",
		Help: "因数据源并发已满而被拒绝的请求数",
	})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(
		httpRequestDuration,
		queryTotal,
		queryDuration,
		guardRejections,
		schemaCacheHits,
		schemaCacheMisses,
		backpressureTotal,
	)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// PrometheusMiddleware 按路由模板记录 HTTP 请求耗时。
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// ObserveQuery 记录一次查询的结局与耗时。
func ObserveQuery(kind, outcome string, elapsed time.Duration) {
	queryTotal.WithLabelValues(kind, outcome).Inc()
	queryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordGuardRejection 记录一次守卫拒绝。
func RecordGuardRejection(dialect string) {
	guardRejections.WithLabelValues(dialect).Inc()
}

// RecordSchemaCache 记录一次结构快照缓存查找。
func RecordSchemaCache(hit bool) {
	if hit {
		schemaCacheHits.Inc()
		return
	}
	schemaCacheMisses.Inc()
}

// RecordBackpressure 记录一次背压拒绝。
func RecordBackpressure() { backpressureTotal.Inc() }
