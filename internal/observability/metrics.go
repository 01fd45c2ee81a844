package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FrameOutcomes are the per-channel frame counters exported for each proxy.
var FrameOutcomes = []string{"allowed", "bypassed", "discarded", "failed", "empty", "other"}

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmuxd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"component", "access", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qmuxd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "access", "method", "path", "status"},
	)
	routerVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmuxd",
			Subsystem: "router",
			Name:      "verdicts_total",
			Help:      "Classifier verdicts by service and source.",
		},
		[]string{"service", "source", "action"},
	)
	authRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmuxd",
			Subsystem: "http",
			Name:      "auth_rejected_total",
			Help:      "Control requests rejected for a missing or wrong token.",
		},
		[]string{"component", "path"},
	)
	injectedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qmuxd",
			Subsystem: "inject",
			Name:      "frames_total",
			Help:      "Synthetic frames written by the injector.",
		},
		[]string{"trigger", "direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, authRejected, routerVerdicts, injectedFrames)
	})
}

func RecordHTTPRequest(component, access, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, access, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(component, access, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAuthRejected(component, path string) {
	RegisterMetrics()
	authRejected.WithLabelValues(component, path).Inc()
}

func RecordVerdict(service, source, action string) {
	RegisterMetrics()
	routerVerdicts.WithLabelValues(service, source, action).Inc()
}

func RecordInjected(trigger, direction string, frames int) {
	RegisterMetrics()
	injectedFrames.WithLabelValues(trigger, direction).Add(float64(frames))
}

// RegisterFrameStats exports one counter per outcome for a proxy channel.
// read is called on every scrape and must be safe for concurrent use.
func RegisterFrameStats(reg prometheus.Registerer, channel string, read func() map[string]uint64) error {
	for _, outcome := range FrameOutcomes {
		outcome := outcome
		c := prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   "qmuxd",
				Subsystem:   "proxy",
				Name:        "frames_total",
				Help:        "Frames handled by a proxy channel by outcome.",
				ConstLabels: prometheus.Labels{"channel": channel, "outcome": outcome},
			},
			func() float64 { return float64(read()[outcome]) },
		)
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
