// Package metrics exports the outcome of a run as Prometheus gauges in the
// node_exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liberodark/check-updates/internal/health"
)

const namespace = "check_updates"

// Snapshot is the data exported for one run.
type Snapshot struct {
	Total    int
	Security int
	Applied  int
	Status   health.Status
	Duration time.Duration
	Finished time.Time
}

// Recorder owns a private registry with the run gauges.
type Recorder struct {
	reg *prometheus.Registry

	pending  *prometheus.GaugeVec
	applied  prometheus.Gauge
	status   *prometheus.GaugeVec
	exitCode prometheus.Gauge
	duration prometheus.Gauge
	lastRun  prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_updates",
			Help:      "Pending package updates by kind.",
		}, []string{"kind"}),
		applied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applied_updates",
			Help:      "Packages submitted for installation in the last run.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Verdict of the last run (1 = current status).",
		}, []string{"status"}),
		exitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_code",
			Help:      "Plugin exit code of the last run.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "UNIX time the last run finished.",
		}),
	}
	r.reg.MustRegister(r.pending, r.applied, r.status, r.exitCode, r.duration, r.lastRun)
	return r
}

// Record sets every gauge from s.
func (r *Recorder) Record(s Snapshot) {
	r.pending.WithLabelValues("all").Set(float64(s.Total))
	r.pending.WithLabelValues("security").Set(float64(s.Security))
	r.applied.Set(float64(s.Applied))
	for _, st := range []health.Status{health.OK, health.Warning, health.Critical, health.Unknown} {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		r.status.WithLabelValues(string(st)).Set(v)
	}
	r.exitCode.Set(float64(s.Status.ExitCode()))
	r.duration.Set(s.Duration.Seconds())
	if !s.Finished.IsZero() {
		r.lastRun.Set(float64(s.Finished.Unix()))
	}
}

// WriteTextfile writes the registry to path atomically, for the node_exporter
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
