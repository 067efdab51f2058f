package relay

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stat counters are updated by tick goroutine and read by metrics scrape.
type Stat struct { //nolint:maligned
	sync.Mutex
	StatCounters
}

type StatCounters struct {
	Enqueued        uint64
	Evicted         uint64
	IngestDropped   uint64
	Published       uint64
	PublishFailed   uint64
	BuildErrors     uint64
	StatusPublished uint64
	Connects        uint64
	ConnectFailures uint64
	Disconnects     uint64
	TokensIssued    uint64
	TokenErrors     uint64
	StaleEvents     uint64
	QueueLen        int
	Active          int
}

func (self *Stat) Snapshot() StatCounters {
	self.Lock()
	defer self.Unlock()
	return self.StatCounters
}

func (self *Stat) update(fun func(*StatCounters)) {
	self.Lock()
	fun(&self.StatCounters)
	self.Unlock()
}

func (c StatCounters) String() string {
	return fmt.Sprintf("queue=%d active=%d enqueued=%d evicted=%d ingest_dropped=%d published=%d publish_failed=%d build_errors=%d status=%d connects=%d connect_failures=%d disconnects=%d tokens=%d token_errors=%d",
		c.QueueLen, c.Active, c.Enqueued, c.Evicted, c.IngestDropped, c.Published, c.PublishFailed, c.BuildErrors,
		c.StatusPublished, c.Connects, c.ConnectFailures, c.Disconnects, c.TokensIssued, c.TokenErrors)
}

type statDesc struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	get   func(*StatCounters) float64
}

// StatCollector exposes Stat to prometheus registry.
type StatCollector struct {
	stat  *Stat
	descs []statDesc
}

var _ prometheus.Collector = &StatCollector{}

func NewStatCollector(stat *Stat, namespace string) *StatCollector {
	counter := func(name, help string, get func(*StatCounters) uint64) statDesc {
		return statDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "relay", name), help, nil, nil),
			vtype: prometheus.CounterValue,
			get:   func(c *StatCounters) float64 { return float64(get(c)) },
		}
	}
	gauge := func(name, help string, get func(*StatCounters) int) statDesc {
		return statDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "relay", name), help, nil, nil),
			vtype: prometheus.GaugeValue,
			get:   func(c *StatCounters) float64 { return float64(get(c)) },
		}
	}
	return &StatCollector{stat: stat, descs: []statDesc{
		counter("enqueued_total", "Packets accepted into queue.", func(c *StatCounters) uint64 { return c.Enqueued }),
		counter("evicted_total", "Packets evicted from full queue.", func(c *StatCounters) uint64 { return c.Evicted }),
		counter("ingest_dropped_total", "Packets dropped before queue, ingest channel full.", func(c *StatCounters) uint64 { return c.IngestDropped }),
		counter("published_total", "Messages accepted by transport.", func(c *StatCounters) uint64 { return c.Published }),
		counter("publish_failed_total", "Messages rejected by transport.", func(c *StatCounters) uint64 { return c.PublishFailed }),
		counter("build_errors_total", "Messages dropped at build.", func(c *StatCounters) uint64 { return c.BuildErrors }),
		counter("status_published_total", "Status publish rounds accepted by at least one destination.", func(c *StatCounters) uint64 { return c.StatusPublished }),
		counter("connects_total", "Successful connects.", func(c *StatCounters) uint64 { return c.Connects }),
		counter("connect_failures_total", "Failed or timed out connects.", func(c *StatCounters) uint64 { return c.ConnectFailures }),
		counter("disconnects_total", "Lost connections.", func(c *StatCounters) uint64 { return c.Disconnects }),
		counter("tokens_issued_total", "Analyzer tokens issued.", func(c *StatCounters) uint64 { return c.TokensIssued }),
		counter("token_errors_total", "Analyzer token issue failures.", func(c *StatCounters) uint64 { return c.TokenErrors }),
		counter("stale_events_total", "Transport events from closed connections.", func(c *StatCounters) uint64 { return c.StaleEvents }),
		gauge("queue_len", "Packets waiting in queue.", func(c *StatCounters) int { return c.QueueLen }),
		gauge("active_destinations", "Connected destinations.", func(c *StatCounters) int { return c.Active }),
	}}
}

func (self *StatCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range self.descs {
		ch <- d.desc
	}
}

func (self *StatCollector) Collect(ch chan<- prometheus.Metric) {
	c := self.stat.Snapshot()
	for _, d := range self.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.vtype, d.get(&c))
	}
}
