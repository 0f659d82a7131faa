// Package metrics reports counters and timings to DogStatsD.
package metrics

import (
	"context"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/dmitrijs2005/feedgate/internal/logging"
)

const namespace = "feedgate."

// Metric names.
const (
	SchedulerClaimed         = "scheduler.claimed"
	SchedulerDispatched      = "scheduler.dispatched"
	SchedulerSkipped         = "scheduler.skipped"
	SchedulerTaskDuration    = "scheduler.task.duration"
	SchedulerTaskResult      = "scheduler.task.result"
	SchedulerJobsOutstanding = "scheduler.jobs.outstanding"
	AuthResult               = "auth.result"
	ProxyForwarded           = "proxy.forwarded"
)

// Reporter is the metrics sink used by the scheduler, auth and proxy layers.
type Reporter interface {
	Incr(name string, tags ...string)
	Timing(name string, d time.Duration, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Close() error
}

// StatsdReporter sends metrics over UDP. Send failures are logged at debug
// level and otherwise ignored.
type StatsdReporter struct {
	client *statsd.Client
	log    logging.Logger
}

func NewStatsdReporter(addr string, log logging.Logger) (*StatsdReporter, error) {
	c, err := statsd.New(addr, statsd.WithNamespace(namespace), statsd.WithoutTelemetry())
	if err != nil {
		return nil, err
	}
	return &StatsdReporter{client: c, log: log.With("module", "metrics")}, nil
}

func (r *StatsdReporter) Incr(name string, tags ...string) {
	if err := r.client.Incr(name, tags, 1); err != nil {
		r.log.Debug(context.Background(), "cannot report counter", "name", name, "error", err)
	}
}

func (r *StatsdReporter) Timing(name string, d time.Duration, tags ...string) {
	if err := r.client.Timing(name, d, tags, 1); err != nil {
		r.log.Debug(context.Background(), "cannot report timing", "name", name, "error", err)
	}
}

func (r *StatsdReporter) Gauge(name string, value float64, tags ...string) {
	if err := r.client.Gauge(name, value, tags, 1); err != nil {
		r.log.Debug(context.Background(), "cannot report gauge", "name", name, "error", err)
	}
}

func (r *StatsdReporter) Close() error {
	return r.client.Close()
}

type nopReporter struct{}

// Nop returns a Reporter that drops everything.
func Nop() Reporter { return nopReporter{} }

func (nopReporter) Incr(string, ...string)                  {}
func (nopReporter) Timing(string, time.Duration, ...string) {}
func (nopReporter) Gauge(string, float64, ...string)        {}
func (nopReporter) Close() error                            { return nil }

// Tag formats a key:value tag.
func Tag(key, value string) string {
	return key + ":" + value
}
