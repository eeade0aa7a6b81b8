// Package metrics exports a Table's live state as Prometheus collectors.
// It never touches the table's lock directly: everything it reports comes
// through Table.Stats and Table.Counters, the two read-only snapshot
// accessors the transport core exposes for exactly this purpose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xv6net/tcpcore/tcp"
)

// Collector adapts a *tcp.Table to prometheus.Collector, reporting one gauge
// per observed state count, a gauge of used slots, and the three drop/reset
// counters Table.Counters tracks.
type Collector struct {
	table *tcp.Table

	cbUsed      *prometheus.Desc
	cbState     *prometheus.Desc
	checksumErr *prometheus.Desc
	segDrops    *prometheus.Desc
	resets      *prometheus.Desc
}

// NewCollector returns a Collector reporting on table. Register it with a
// prometheus.Registry to expose it.
func NewCollector(table *tcp.Table) *Collector {
	return &Collector{
		table:       table,
		cbUsed:      prometheus.NewDesc("tcpcore_cb_used", "Control blocks currently allocated.", nil, nil),
		cbState:     prometheus.NewDesc("tcpcore_cb_state", "Control blocks currently in a given state.", []string{"state"}, nil),
		checksumErr: prometheus.NewDesc("tcpcore_checksum_errors_total", "Segments dropped for a bad checksum.", nil, nil),
		segDrops:    prometheus.NewDesc("tcpcore_segments_dropped_total", "Segments dropped by the state machine's admission checks.", nil, nil),
		resets:      prometheus.NewDesc("tcpcore_resets_total", "RST segments sent.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cbUsed
	ch <- c.cbState
	ch <- c.checksumErr
	ch <- c.segDrops
	ch <- c.resets
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.table.Stats()
	var used float64
	byState := map[tcp.State]float64{}
	for _, s := range stats {
		if s.Used {
			used++
			byState[s.State]++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.cbUsed, prometheus.GaugeValue, used)
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.cbState, prometheus.GaugeValue, n, state.String())
	}

	ctr := c.table.Counters()
	ch <- prometheus.MustNewConstMetric(c.checksumErr, prometheus.CounterValue, float64(ctr.ChecksumDrops))
	ch <- prometheus.MustNewConstMetric(c.segDrops, prometheus.CounterValue, float64(ctr.SegmentDrops))
	ch <- prometheus.MustNewConstMetric(c.resets, prometheus.CounterValue, float64(ctr.Resets))
}
