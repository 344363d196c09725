// Package prom owns the process metrics. Nothing is recorded until Create
// has run; before that every helper is a no-op.
package prom

import (
	"sync"

	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemOrders    = "orders"
	SystemProviders = "providers"
	SystemQueue     = "queue"
)

const (
	MetricOrderOutcomes           = "outcomes_total"
	MetricSettlementDuration      = "settlement_duration_seconds"
	MetricSweepFreed              = "sweep_freed_total"
	MetricCodeDeliveries          = "code_deliveries_total"
	MetricProviderRequests        = "requests_total"
	MetricProviderRequestDuration = "request_duration_seconds"
	MetricQueueProcessed          = "processed_total"
)

type kind int

const (
	counter kind = iota
	counterVec
	histogram
	histogramVec
)

type definition struct {
	kind      kind
	subsystem string
	name      string
	help      string
	labels    []string
}

var definitions = []definition{
	{counterVec, SystemOrders, MetricOrderOutcomes, "Order engine transitions by outcome.", []string{"outcome"}},
	{histogram, SystemOrders, MetricSettlementDuration, "Seconds from payment creation to settlement.", nil},
	{counter, SystemOrders, MetricSweepFreed, "Reservations freed by the expiry sweep.", nil},
	{counterVec, SystemOrders, MetricCodeDeliveries, "Code deliveries published.", []string{"kind"}},
	{counterVec, SystemProviders, MetricProviderRequests, "Payment provider calls by result.", []string{"operation", "result"}},
	{histogramVec, SystemProviders, MetricProviderRequestDuration, "Payment provider call latency.", []string{"operation"}},
	{counterVec, SystemQueue, MetricQueueProcessed, "Stream entries handled by the processor.", []string{"stream", "result"}},
}

var MetricSystemEnabled = false

var (
	mu            sync.RWMutex
	registry      *prometheus.Registry
	counters      map[string]prometheus.Counter
	counterVecs   map[string]*prometheus.CounterVec
	histograms    map[string]prometheus.Histogram
	histogramVecs map[string]*prometheus.HistogramVec
)

func key(subsystem, name string) string {
	return subsystem + "_" + name
}

// Create builds a fresh registry with every metric the service records.
// host and env become constant labels.
func Create(host, env, namespace string) error {
	labels := prometheus.Labels{"env": env, "instance": host}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := make(map[string]prometheus.Counter)
	cv := make(map[string]*prometheus.CounterVec)
	h := make(map[string]prometheus.Histogram)
	hv := make(map[string]*prometheus.HistogramVec)

	for _, d := range definitions {
		copts := prometheus.CounterOpts{Namespace: namespace, Subsystem: d.subsystem, Name: d.name, Help: d.help, ConstLabels: labels}
		hopts := prometheus.HistogramOpts{Namespace: namespace, Subsystem: d.subsystem, Name: d.name, Help: d.help, ConstLabels: labels, Buckets: prometheus.DefBuckets}

		var col prometheus.Collector
		switch d.kind {
		case counter:
			m := prometheus.NewCounter(copts)
			c[key(d.subsystem, d.name)], col = m, m
		case counterVec:
			m := prometheus.NewCounterVec(copts, d.labels)
			cv[key(d.subsystem, d.name)], col = m, m
		case histogram:
			m := prometheus.NewHistogram(hopts)
			h[key(d.subsystem, d.name)], col = m, m
		case histogramVec:
			m := prometheus.NewHistogramVec(hopts, d.labels)
			hv[key(d.subsystem, d.name)], col = m, m
		}
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	mu.Lock()
	registry, counters, counterVecs, histograms, histogramVecs = reg, c, cv, h, hv
	MetricSystemEnabled = true
	mu.Unlock()
	return nil
}

// ListenAndServer serves the registry on addr at path. It panics when the
// listener fails.
func ListenAndServer(addr string, path string) {
	mu.RLock()
	reg := registry
	mu.RUnlock()

	var handler = promhttp.Handler()
	if reg != nil {
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	s := xhttp.CreateServer()
	s.GET(path, fasthttpadaptor.NewFastHTTPHandler(handler))
	logger.Info("[metrics-server] listening...", "addr", addr, "path", path)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func addCounter(subsystem, name string, n float64) {
	mu.RLock()
	defer mu.RUnlock()
	if !MetricSystemEnabled {
		return
	}
	if m, ok := counters[key(subsystem, name)]; ok {
		m.Add(n)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func addCounterVec(subsystem, name string, n float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !MetricSystemEnabled {
		return
	}
	if m, ok := counterVecs[key(subsystem, name)]; ok {
		m.WithLabelValues(labelValues...).Add(n)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func observe(subsystem, name string, v float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !MetricSystemEnabled {
		return
	}
	k := key(subsystem, name)
	if m, ok := histograms[k]; ok && len(labelValues) == 0 {
		m.Observe(v)
		return
	}
	if m, ok := histogramVecs[k]; ok {
		m.WithLabelValues(labelValues...).Observe(v)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func IncOrderOutcome(outcome string) {
	addCounterVec(SystemOrders, MetricOrderOutcomes, 1, outcome)
}

func ObserveSettlement(seconds float64) {
	observe(SystemOrders, MetricSettlementDuration, seconds)
}

func AddSweepFreed(n int) {
	addCounter(SystemOrders, MetricSweepFreed, float64(n))
}

func IncCodeDelivery(kind string) {
	addCounterVec(SystemOrders, MetricCodeDeliveries, 1, kind)
}

func ObserveProviderRequest(operation, result string, seconds float64) {
	addCounterVec(SystemProviders, MetricProviderRequests, 1, operation, result)
	observe(SystemProviders, MetricProviderRequestDuration, seconds, operation)
}

func IncQueueProcessed(stream, result string) {
	addCounterVec(SystemQueue, MetricQueueProcessed, 1, stream, result)
}

// Gather exposes the current registry for tests.
func Gather() (map[string]float64, error) {
	mu.RLock()
	reg := registry
	mu.RUnlock()
	out := make(map[string]float64)
	if reg == nil {
		return out, nil
	}
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[f.GetName()] = total
	}
	return out, nil
}
