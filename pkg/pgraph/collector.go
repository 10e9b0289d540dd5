package pgraph

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kitgraph"

// Collector exports graph statistics as Prometheus gauges, computed at
// scrape time. A graph that is not hydrated reports only
// kitgraph_hydrated.
type Collector struct {
	pg *PersistentGraph

	hydrated    *prometheus.Desc
	nodes       *prometheus.Desc
	nodesByType *prometheus.Desc
	edges       *prometheus.Desc
	orphans     *prometheus.Desc
	lastUpdate  *prometheus.Desc
}

// NewCollector returns a collector for pg. Register it with a
// prometheus.Registerer.
func NewCollector(pg *PersistentGraph) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(metricsNamespace, "", n) }
	return &Collector{
		pg: pg,
		hydrated: prometheus.NewDesc(name("hydrated"),
			"1 when the in-memory graph is loaded", nil, nil),
		nodes: prometheus.NewDesc(name("nodes"),
			"Nodes by completeness level", []string{"completeness"}, nil),
		nodesByType: prometheus.NewDesc(name("nodes_by_entity_type"),
			"Nodes by entity type", []string{"entity_type"}, nil),
		edges: prometheus.NewDesc(name("edges"),
			"Edges by relation type", []string{"type"}, nil),
		orphans: prometheus.NewDesc(name("orphan_nodes"),
			"Nodes without any edge", nil, nil),
		lastUpdate: prometheus.NewDesc(name("last_update_timestamp_seconds"),
			"Time of the latest change to the graph", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hydrated
	ch <- c.nodes
	ch <- c.nodesByType
	ch <- c.edges
	ch <- c.orphans
	ch <- c.lastUpdate
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if !c.pg.IsHydrated() {
		ch <- prometheus.MustNewConstMetric(c.hydrated, prometheus.GaugeValue, 0)
		return
	}
	stats, err := c.pg.Statistics(context.Background())
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.hydrated, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.hydrated, prometheus.GaugeValue, 1)
	for level, n := range stats.NodesByCompleteness {
		ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(n), string(level))
	}
	for t, n := range stats.NodesByEntityType {
		ch <- prometheus.MustNewConstMetric(c.nodesByType, prometheus.GaugeValue, float64(n), string(t))
	}
	for t, n := range stats.EdgesByType {
		ch <- prometheus.MustNewConstMetric(c.edges, prometheus.GaugeValue, float64(n), string(t))
	}
	ch <- prometheus.MustNewConstMetric(c.orphans, prometheus.GaugeValue, float64(stats.OrphanNodes))
	ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, float64(stats.LastUpdated)/1000)
}

var _ prometheus.Collector = (*Collector)(nil)
