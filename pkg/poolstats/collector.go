// Package poolstats exposes the state of a bounded worker pool (the
// Installer's capped install pool) as Prometheus metrics.
package poolstats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Stat is the snapshot a worker pool reports about itself. Callers
// implement this over whatever bounding primitive they use (a
// golang.org/x/sync/semaphore.Weighted, an errgroup, a buffered channel
// acting as a ticket pool, ...).
type Stat interface {
	// Active is the number of units of work currently running.
	Active() int64
	// Queued is the number of units of work waiting for a free slot.
	Queued() int64
	// Capacity is the pool's configured concurrency limit.
	Capacity() int64
	// Completed is the cumulative count of units of work that have
	// finished, successfully or not.
	Completed() int64
	// Rejected is the cumulative count of units of work turned away
	// (e.g. a cycle detected in the Installer's in-flight set).
	Rejected() int64
}

type staterFunc func() Stat

// Collector is a prometheus.Collector reporting the five Stat values for a
// named pool.
type Collector struct {
	name string
	stat staterFunc

	activeDesc    *prometheus.Desc
	queuedDesc    *prometheus.Desc
	capacityDesc  *prometheus.Desc
	completedDesc *prometheus.Desc
	rejectedDesc  *prometheus.Desc
}

// Stater is a provider of the Stat() function.
type Stater interface {
	Stat() Stat
}

// NewCollector creates a Collector that reports on stater, labeled with
// pool, e.g. "installer" or "launcher".
func NewCollector(stater Stater, pool string) *Collector {
	fn := func() Stat { return stater.Stat() }
	return newCollector(fn, pool)
}

func newCollector(fn staterFunc, n string) *Collector {
	return &Collector{
		name: n,
		stat: fn,
		activeDesc: prometheus.NewDesc(
			"linglong_pool_active",
			"Number of units of work currently running in the pool.",
			staticLabels, nil),
		queuedDesc: prometheus.NewDesc(
			"linglong_pool_queued",
			"Number of units of work waiting for a free slot in the pool.",
			staticLabels, nil),
		capacityDesc: prometheus.NewDesc(
			"linglong_pool_capacity",
			"Configured concurrency limit of the pool.",
			staticLabels, nil),
		completedDesc: prometheus.NewDesc(
			"linglong_pool_completed_total",
			"Cumulative count of units of work that have finished.",
			staticLabels, nil),
		rejectedDesc: prometheus.NewDesc(
			"linglong_pool_rejected_total",
			"Cumulative count of units of work turned away by the pool.",
			staticLabels, nil),
	}
}

var staticLabels = []string{"pool"}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	s := c.stat()
	metrics <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(s.Active()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.queuedDesc, prometheus.GaugeValue, float64(s.Queued()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.capacityDesc, prometheus.GaugeValue, float64(s.Capacity()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.completedDesc, prometheus.CounterValue, float64(s.Completed()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.rejectedDesc, prometheus.CounterValue, float64(s.Rejected()), c.name)
}
