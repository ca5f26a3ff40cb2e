// Package metrics provides Prometheus metrics for the workflow stages.
//
// There is no listener: the collected metrics are written in the text exposition
// format to a file, to be picked up by the node exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mnistflow"

// Recorder collects the stage metrics of one process. It implements workflow.Observer.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageRuns     *prometheus.CounterVec
	stagesActive  prometheus.Gauge
	accuracy      *prometheus.GaugeVec
	trainIters    *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Histogram of stage execution duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"workflow", "stage"},
		),
		stageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Total number of stage executions",
			},
			[]string{"workflow", "stage", "status"}, // status: success, error
		),
		stagesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stages_active",
				Help:      "Number of stages currently executing",
			},
		),
		accuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_accuracy_ratio",
				Help:      "Accuracy of the trained model on the test partition",
			},
			[]string{"workflow"},
		),
		trainIters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "train_iterations",
				Help:      "Solver iterations used by the last training",
			},
			[]string{"workflow"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful stage execution",
			},
			[]string{"workflow", "stage"},
		),
	}
	r.registry.MustRegister(r.stageDuration, r.stageRuns, r.stagesActive, r.accuracy, r.trainIters, r.lastSuccess)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StepStarted implements workflow.Observer.
func (r *Recorder) StepStarted(_, _ string) {
	r.stagesActive.Inc()
}

// StepFinished implements workflow.Observer.
func (r *Recorder) StepFinished(workflow, step string, elapsed time.Duration, err error) {
	r.stagesActive.Dec()
	r.stageDuration.WithLabelValues(workflow, step).Observe(elapsed.Seconds())
	status := "success"
	if err != nil {
		status = "error"
	} else {
		r.lastSuccess.WithLabelValues(workflow, step).SetToCurrentTime()
	}
	r.stageRuns.WithLabelValues(workflow, step, status).Inc()
}

// RecordAccuracy sets the evaluation score.
func (r *Recorder) RecordAccuracy(workflow string, score float64) {
	r.accuracy.WithLabelValues(workflow).Set(score)
}

// RecordTraining sets the number of solver iterations of the last fit.
func (r *Recorder) RecordTraining(workflow string, iterations int) {
	r.trainIters.WithLabelValues(workflow).Set(float64(iterations))
}

// WriteTextfile writes the metrics to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}

	return nil
}
