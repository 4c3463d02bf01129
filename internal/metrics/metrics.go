// Package metrics exposes merge orchestration counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/merger"
)

// Recorder records orchestration events as Prometheus metrics.
type Recorder struct {
	gatherer        prometheus.Gatherer
	outcomesTotal   *prometheus.CounterVec
	rebasesTotal    *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	pipelineWait    *prometheus.HistogramVec
	batchDuration   *prometheus.HistogramVec
	lastBatchFinish *prometheus.GaugeVec
}

// NewRecorder registers the metrics with reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mr_automerge_outcomes_total",
				Help: "Processed merge requests by repository and terminal state",
			},
			[]string{"repository", "terminal"},
		),
		rebasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mr_automerge_rebases_total",
				Help: "Rebase requests issued",
			},
			[]string{"repository"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mr_automerge_pipeline_retries_total",
				Help: "Pipeline retry requests issued",
			},
			[]string{"repository"},
		),
		pipelineWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mr_automerge_pipeline_wait_seconds",
				Help:    "Time spent waiting for pipelines to finish",
				Buckets: prometheus.ExponentialBuckets(30, 2, 8),
			},
			[]string{"repository", "status"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mr_automerge_batch_duration_seconds",
				Help:    "Duration of complete batches",
				Buckets: prometheus.ExponentialBuckets(60, 2, 8),
			},
			[]string{"repository"},
		),
		lastBatchFinish: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mr_automerge_last_batch_timestamp_seconds",
				Help: "Unix time the last batch finished",
			},
			[]string{"repository"},
		),
	}
}

// Observer returns a merger.Observer that records side effects for repository.
func (r *Recorder) Observer(repository string) merger.Observer {
	return repositoryObserver{recorder: r, repository: repository}
}

// Hook returns an outcome hook counting terminal states.
func (r *Recorder) Hook() merger.OutcomeHook {
	return func(report *merger.Report, o domain.Outcome) {
		r.outcomesTotal.WithLabelValues(report.Repository, string(o.Terminal)).Inc()
	}
}

// ObserveBatch records a finished batch.
func (r *Recorder) ObserveBatch(report *merger.Report) {
	r.batchDuration.WithLabelValues(report.Repository).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	r.lastBatchFinish.WithLabelValues(report.Repository).Set(float64(report.FinishedAt.Unix()))
}

// Handler serves the recorded metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

type repositoryObserver struct {
	recorder   *Recorder
	repository string
}

func (o repositoryObserver) Rebased(domain.MergeRequest) {
	o.recorder.rebasesTotal.WithLabelValues(o.repository).Inc()
}

func (o repositoryObserver) PipelineRetried(domain.MergeRequest, int) {
	o.recorder.retriesTotal.WithLabelValues(o.repository).Inc()
}

func (o repositoryObserver) PipelineFinished(_ domain.MergeRequest, p *domain.Pipeline, waited time.Duration) {
	o.recorder.pipelineWait.WithLabelValues(o.repository, string(p.Status)).Observe(waited.Seconds())
}
