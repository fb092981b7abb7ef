package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webext",
			Subsystem: "ipc",
			Name:      "frames_total",
			Help:      "Frames moved across worker connections.",
		},
		[]string{"direction", "kind"},
	)
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webext",
			Subsystem: "ipc",
			Name:      "bytes_total",
			Help:      "Framed bytes moved across worker connections.",
		},
		[]string{"direction", "kind"},
	)
	disconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webext",
			Subsystem: "ipc",
			Name:      "disconnects_total",
			Help:      "Endpoint teardowns by error class.",
		},
		[]string{"class"},
	)
	workers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "webext",
			Subsystem: "registry",
			Name:      "workers",
			Help:      "Registered workers by state.",
		},
		[]string{"state"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webext",
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Time from accept to the worker ready signal.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webext",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webext",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			bytesTotal,
			disconnectsTotal,
			workers,
			handshakeDuration,
			httpRequests,
			httpDuration,
		)
	})
}

// EndpointObserver feeds endpoint frame accounting into the process metrics.
type EndpointObserver struct{}

func (EndpointObserver) FrameIn(kind frame.Kind, n int) {
	RecordFrame(DirectionIn, kind, n)
}

func (EndpointObserver) FrameOut(kind frame.Kind, n int) {
	RecordFrame(DirectionOut, kind, n)
}

func (EndpointObserver) Disconnected(class string) {
	RegisterMetrics()
	disconnectsTotal.WithLabelValues(class).Inc()
}

func RecordFrame(direction string, kind frame.Kind, n int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, kind.String()).Inc()
	bytesTotal.WithLabelValues(direction, kind.String()).Add(float64(n))
}

// SetWorkers publishes the registry population for one state.
func SetWorkers(state string, n int) {
	RegisterMetrics()
	workers.WithLabelValues(state).Set(float64(n))
}

func RecordHandshake(outcome string, d time.Duration) {
	RegisterMetrics()
	handshakeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
