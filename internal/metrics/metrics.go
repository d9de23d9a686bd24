// Package metrics 汇总 offline-hub 的 Prometheus 指标。每个 Recorder 持有独立的 Registry，
// 测试与多实例之间互不干扰。nil *Recorder 的所有方法都是 no-op。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 持有全部指标向量。
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	storageErrors   *prometheus.CounterVec
	precacheEntries *prometheus.GaugeVec
	lifecyclePhase  *prometheus.GaugeVec
}

// New 创建 Recorder 并注册 Go runtime / process 采集器。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_requests_total",
				Help: "Intercepted requests by site, class and response source",
			},
			[]string{"site", "class", "source"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offline_hub_request_duration_seconds",
				Help:    "Time spent handling intercepted requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"site", "class"},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_fallbacks_total",
				Help: "Responses served from the bucket because the origin was unreachable",
			},
			[]string{"site", "class"},
		),
		storageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_storage_errors_total",
				Help: "Cache storage failures by operation",
			},
			[]string{"site", "op"},
		),
		precacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "offline_hub_precache_entries",
				Help: "Entries stored during the last install, split by core shell and app listing",
			},
			[]string{"site", "generation", "kind"},
		),
		lifecyclePhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "offline_hub_lifecycle_phase",
				Help: "Lifecycle phase per generation (0 idle, 1 installing, 2 activating, 3 active, 4 failed)",
			},
			[]string{"site", "generation"},
		),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requestsTotal,
		r.requestDuration,
		r.fallbacksTotal,
		r.storageErrors,
		r.precacheEntries,
		r.lifecyclePhase,
	)
	return r
}

// Registry 暴露底层 Registry，便于测试直接 Gather。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest 记录一次拦截结果。
func (r *Recorder) ObserveRequest(site, class, source string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(site, class, source).Inc()
	r.requestDuration.WithLabelValues(site, class).Observe(elapsed.Seconds())
}

// Fallback 记录一次缓存兜底。
func (r *Recorder) Fallback(site, class string) {
	if r == nil {
		return
	}
	r.fallbacksTotal.WithLabelValues(site, class).Inc()
}

// StorageError 记录一次后端失败，op 与 cacheerr.Storage 的 op 保持一致。
func (r *Recorder) StorageError(site, op string) {
	if r == nil {
		return
	}
	r.storageErrors.WithLabelValues(site, op).Inc()
}

// Precached 记录 install 阶段写入的条目数，kind 为 core 或 listing。
func (r *Recorder) Precached(site, generation, kind string, count int) {
	if r == nil {
		return
	}
	r.precacheEntries.WithLabelValues(site, generation, kind).Set(float64(count))
}

// Phase 记录 generation 当前所处阶段。
func (r *Recorder) Phase(site, generation string, phase int) {
	if r == nil {
		return
	}
	r.lifecyclePhase.WithLabelValues(site, generation).Set(float64(phase))
}

// ForgetGeneration 删除已清理 generation 的标签，避免指标无限增长。
func (r *Recorder) ForgetGeneration(site, generation string) {
	if r == nil {
		return
	}
	r.lifecyclePhase.DeleteLabelValues(site, generation)
	r.precacheEntries.DeletePartialMatch(prometheus.Labels{"site": site, "generation": generation})
}
