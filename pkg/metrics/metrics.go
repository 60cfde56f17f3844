// Package metrics exposes counters about the follow loop. Prometheus has no
// scrape target on a machine running one short lived process per cycle, so
// Prom writes the node_exporter textfile format instead.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "npcnix"

// Metrics records the outcome of follow cycles.
type Metrics interface {
	IncCycles(outcome string)
	IncActivations(configuration string)
	SetLastActivation(at time.Time)
	SetLastSleep(d time.Duration)
	Flush() error
}

// Noop implements Metrics without recording anything.
type Noop struct{}

func (Noop) IncCycles(string)            {}
func (Noop) IncActivations(string)       {}
func (Noop) SetLastActivation(time.Time) {}
func (Noop) SetLastSleep(time.Duration)  {}
func (Noop) Flush() error                { return nil }

// Prom implements Metrics with Prometheus collectors on a private registry.
type Prom struct {
	registry       *prometheus.Registry
	textfile       string
	cycles         *prometheus.CounterVec
	activations    *prometheus.CounterVec
	lastActivation prometheus.Gauge
	lastSleep      prometheus.Gauge
}

// NewProm returns a Prom that Flush writes to textfile.
func NewProm(textfile string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Follow cycles by outcome",
		}, []string{"outcome"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Successful activations by configuration",
		}, []string{"configuration"}),
		lastActivation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_activation_timestamp_seconds",
			Help:      "Unix time of the last successful activation",
		}),
		lastSleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sleep_seconds",
			Help:      "Duration of the most recent poll interval",
		}),
	}
	p.registry.MustRegister(p.cycles, p.activations, p.lastActivation, p.lastSleep)
	return p
}

func (p *Prom) IncCycles(outcome string) {
	p.cycles.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncActivations(configuration string) {
	p.activations.WithLabelValues(configuration).Inc()
}

func (p *Prom) SetLastActivation(at time.Time) {
	p.lastActivation.Set(float64(at.Unix()))
}

func (p *Prom) SetLastSleep(d time.Duration) {
	p.lastSleep.Set(d.Seconds())
}

// Gatherer exposes the registry, for example to serve it over HTTP.
func (p *Prom) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Flush atomically rewrites the textfile.
func (p *Prom) Flush() error {
	if p.textfile == "" {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(p.textfile, p.registry), "failed to write metrics to %s", p.textfile)
}
