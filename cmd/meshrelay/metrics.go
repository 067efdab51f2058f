package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	irelay "github.com/temoto/meshrelay/internal/relay"
)

const metricsNamespace = "meshrelay"

type metrics struct {
	addr          string
	registry      *prometheus.Registry
	server        *http.Server
	inputBytes    prometheus.Counter
	invalidFrames prometheus.Counter
}

func newMetrics(addr string, stat *irelay.Stat) *metrics {
	m := &metrics{
		addr:     addr,
		registry: prometheus.NewRegistry(),
		inputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "source", Name: "read_bytes_total",
			Help: "Bytes read from frame source.",
		}),
		invalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "source", Name: "invalid_frames_total",
			Help: "Frame lines that failed to parse or decode.",
		}),
	}
	m.registry.MustRegister(
		irelay.NewStatCollector(stat, metricsNamespace),
		m.inputBytes,
		m.invalidFrames,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Start is no-op without listen address.
func (m *metrics) Start() error {
	if m.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{
		Addr:         m.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", m.addr)
	}
	m.addr = ln.Addr().String()
	log.Infof("metrics listen=%s", m.addr)
	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server err=%v", err)
		}
	}()
	return nil
}

func (m *metrics) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return errors.Annotate(m.server.Shutdown(ctx), "metrics shutdown")
}
