package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	blocksClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "scheduler",
			Name:      "blocks_claimed_total",
			Help:      "Total number of work blocks claimed by workers.",
		},
		[]string{"job_id"},
	)

	blocksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "scheduler",
			Name:      "blocks_completed_total",
			Help:      "Total number of work blocks completed.",
		},
		[]string{"job_id", "outcome"},
	)

	blocksReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "scheduler",
			Name:      "blocks_reclaimed_total",
			Help:      "Total number of work blocks reclaimed after a missed deadline.",
		},
		[]string{"job_id"},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coordinator",
			Subsystem: "registry",
			Name:      "active_workers",
			Help:      "Number of workers that have heartbeat recently.",
		},
	)

	heartbeatsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Total number of worker heartbeats received.",
		},
		[]string{"worker_id"},
	)

	workersPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "registry",
			Name:      "workers_pruned_total",
			Help:      "Total number of workers pruned for staleness.",
		},
		[]string{"reason"},
	)

	verificationsByTier = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "verification",
			Name:      "certificates_total",
			Help:      "Total number of primality certificates verified, by tier and result.",
		},
		[]string{"tier", "result"},
	)

	verificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "verification",
			Name:      "duration_seconds",
			Help:      "Duration of certificate verification.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"tier"},
	)

	costModelRefits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "costmodel",
			Name:      "refits_total",
			Help:      "Total number of cost-model refits attempted.",
		},
		[]string{"outcome"},
	)

	releaseResolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "release",
			Name:      "resolves_total",
			Help:      "Total number of release-resolution requests, by assigned channel.",
		},
		[]string{"channel"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		blocksClaimed,
		blocksCompleted,
		blocksReclaimed,
		workersActive,
		heartbeatsReceived,
		workersPruned,
		verificationsByTier,
		verificationDuration,
		costModelRefits,
		releaseResolves,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordBlockClaimed records a successful block claim.
func RecordBlockClaimed(jobID string) {
	blocksClaimed.WithLabelValues(orUnknown(jobID)).Inc()
}

// RecordBlockCompleted records a block reaching a terminal outcome.
func RecordBlockCompleted(jobID, outcome string) {
	blocksCompleted.WithLabelValues(orUnknown(jobID), orUnknown(outcome)).Inc()
}

// RecordBlockReclaimed records a block being returned to the pending pool
// after its claim expired without a report.
func RecordBlockReclaimed(jobID string) {
	blocksReclaimed.WithLabelValues(orUnknown(jobID)).Inc()
}

// SetActiveWorkers reports the current count of non-stale workers.
func SetActiveWorkers(n int) {
	workersActive.Set(float64(n))
}

// RecordHeartbeat records a worker heartbeat.
func RecordHeartbeat(workerID string) {
	heartbeatsReceived.WithLabelValues(orUnknown(workerID)).Inc()
}

// RecordWorkerPruned records a worker being pruned from the registry.
func RecordWorkerPruned(reason string) {
	workersPruned.WithLabelValues(orUnknown(reason)).Inc()
}

// RecordVerification records the outcome of a certificate verification.
func RecordVerification(tier int, passed bool, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	result := "rejected"
	if passed {
		result = "verified"
	}
	tierLabel := strconv.Itoa(tier)
	verificationsByTier.WithLabelValues(tierLabel, result).Inc()
	verificationDuration.WithLabelValues(tierLabel).Observe(duration.Seconds())
}

// RecordCostModelRefit records a refit attempt outcome ("applied",
// "insufficient_data", or "error").
func RecordCostModelRefit(outcome string) {
	costModelRefits.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordReleaseResolve records a release-resolution request's assigned
// channel.
func RecordReleaseResolve(channel string) {
	releaseResolves.WithLabelValues(orUnknown(channel)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["job_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["worker_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["resource"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// SchedulerReclaimHooks captures the reclaim-sweep ticker's observations.
func SchedulerReclaimHooks() core.ObservationHooks {
	return ObservationHooks("coordinator", "scheduler", "reclaim_sweep")
}

// RegistryPruneHooks captures the worker-pruning ticker's observations.
func RegistryPruneHooks() core.ObservationHooks {
	return ObservationHooks("coordinator", "registry", "prune_sweep")
}

// CostModelRefitHooks captures the periodic cost-model refit observations.
func CostModelRefitHooks() core.ObservationHooks {
	return ObservationHooks("coordinator", "costmodel", "refit")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}
