// Package metrics собирает счётчики пайплайна в Prometheus.
// Процесс живёт один прогон, поэтому метрики не отдаются по HTTP,
// а при наличии адреса отправляются в Pushgateway в конце прогона.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/post"
)

// Виды ошибок для счётчика errors_total.
const (
	KindFetch       = "fetch"
	KindPublish     = "publish"
	KindPersistence = "persistence"
)

const namespace = "x_relay"

// Recorder хранит счётчики одного прогона.
type Recorder struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	errors    *prometheus.CounterVec
	published *prometheus.CounterVec
	purged    prometheus.Counter
	lastRun   prometheus.Gauge

	pushURL string
	job     string
}

// New регистрирует метрики в собственном реестре.
func New(cfg config.Metrics) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Post evaluation decisions by source.",
		}, []string{"source", "decision"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Fetch, publish and persistence errors.",
		}, []string{"kind"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Posts delivered to the channel by source.",
		}, []string{"source"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprints_purged_total",
			Help:      "Expired fingerprints removed from the store.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run.",
		}),
		pushURL: cfg.PushgatewayURL,
		job:     cfg.Job,
	}
	r.registry.MustRegister(r.decisions, r.errors, r.published, r.purged, r.lastRun)
	return r
}

// Registry возвращает реестр (для тестов и отладки).
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Decision(source string, d post.Decision) {
	r.decisions.WithLabelValues(source, d.String()).Inc()
}

func (r *Recorder) Error(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

func (r *Recorder) Published(source string) {
	r.published.WithLabelValues(source).Inc()
}

func (r *Recorder) Purged(n int64) {
	r.purged.Add(float64(n))
}

func (r *Recorder) RunFinished(at time.Time) {
	r.lastRun.Set(float64(at.Unix()))
}

// Push отправляет метрики в Pushgateway. Без адреса ничего не делает.
func (r *Recorder) Push(ctx context.Context) error {
	if r.pushURL == "" {
		return nil
	}
	if err := push.New(r.pushURL, r.job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
