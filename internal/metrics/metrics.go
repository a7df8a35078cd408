// Package metrics records per-step timings of an installation run and writes
// them in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Version can be overridden at build time via -ldflags.
var Version = "dev"

type Recorder struct {
	reg      *prometheus.Registry
	duration *prometheus.GaugeVec
	success  *prometheus.GaugeVec
	run      *prometheus.GaugeVec
	finished prometheus.Gauge
}

func New(runID string) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zfs_installer_step_duration_seconds",
				Help: "Wall time spent in each installation step.",
			},
			[]string{"step"},
		),
		success: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zfs_installer_step_success",
				Help: "1 if the step completed, 0 if it failed.",
			},
			[]string{"step"},
		),
		run: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "zfs_installer_run_success",
				Help:        "1 if the installation completed.",
				ConstLabels: prometheus.Labels{"run": runID, "version": Version},
			},
			nil,
		),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zfs_installer_run_finished_timestamp_seconds",
			Help: "Unix time the installation run ended.",
		}),
	}
	r.reg.MustRegister(r.duration, r.success, r.run, r.finished)
	return r
}

// Step records the outcome of one pipeline step.
func (r *Recorder) Step(step string, took time.Duration, err error) {
	r.duration.WithLabelValues(step).Set(took.Seconds())
	r.success.WithLabelValues(step).Set(boolValue(err == nil))
}

// Finish records the outcome of the whole run.
func (r *Recorder) Finish(at time.Time, err error) {
	r.run.WithLabelValues().Set(boolValue(err == nil))
	r.finished.Set(float64(at.Unix()))
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
