// Package metrics provides a Prometheus implementation of mutex.Metrics.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcastlock"

// Prometheus records peer metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	received       *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	sent           *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	state          *prometheus.GaugeVec
	acquireLatency *prometheus.HistogramVec
	holdDuration   prometheus.Histogram
	deferred       *prometheus.CounterVec
	retries        prometheus.Counter
	timeouts       prometheus.Counter
	groupSize      prometheus.Gauge
	deferredQueue  prometheus.Gauge
}

var _ mutex.Metrics = (*Prometheus)(nil)

// NewPrometheus creates the collectors for the peer identified by id and registers
// them on a fresh registry, together with the Go runtime and process collectors.
func NewPrometheus(id types.PeerID) *Prometheus {
	labels := prometheus.Labels{"peer": string(id)}
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total", ConstLabels: labels,
			Help: "Decoded datagrams dispatched, by receiving channel and status.",
		}, []string{"channel", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total", ConstLabels: labels,
			Help: "Datagrams discarded before dispatch, by reason.",
		}, []string{"reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total", ConstLabels: labels,
			Help: "Outbound messages, by status and outcome.",
		}, []string{"status", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total", ConstLabels: labels,
			Help: "Resource state transitions.",
		}, []string{"from", "to"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state", ConstLabels: labels,
			Help: "1 for the current resource state, 0 otherwise.",
		}, []string{"state"}),
		acquireLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "acquire_latency_seconds", ConstLabels: labels,
			Help:    "Time from acquire to grant.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"contested"}),
		holdDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "hold_duration_seconds", ConstLabels: labels,
			Help:    "How long the resource was held.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_deferred_total", ConstLabels: labels,
			Help: "Requests placed in the deferred queue, by whether they replaced an earlier one.",
		}, []string{"replaced"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "acquire_retries_total", ConstLabels: labels,
			Help: "Requests rebroadcast for lack of replies.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "acquire_timeouts_total", ConstLabels: labels,
			Help: "Requests abandoned after too many rebroadcasts.",
		}),
		groupSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "group_members", ConstLabels: labels,
			Help: "Known group members, excluding this peer.",
		}),
		deferredQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "deferred_requests", ConstLabels: labels,
			Help: "Requests waiting for this peer to release.",
		}),
	}

	reg.MustRegister(
		p.received, p.dropped, p.sent, p.transitions, p.state,
		p.acquireLatency, p.holdDuration, p.deferred, p.retries, p.timeouts,
		p.groupSize, p.deferredQueue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p.setState(types.StateDisconnected)
	return p
}

// Registry returns the registry the collectors are registered on.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler returns an HTTP handler exposing the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) ObserveMessageReceived(channel string, status protocol.Status) {
	p.received.WithLabelValues(channel, statusLabel(status)).Inc()
}

func (p *Prometheus) ObserveMessageDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) ObserveMessageSent(status protocol.Status, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	p.sent.WithLabelValues(statusLabel(status), result).Inc()
}

func (p *Prometheus) ObserveStateChange(from, to types.ResourceState) {
	p.transitions.WithLabelValues(from.String(), to.String()).Inc()
	p.setState(to)
}

func (p *Prometheus) ObserveAcquireLatency(latency time.Duration, contested bool) {
	p.acquireLatency.WithLabelValues(fmt.Sprint(contested)).Observe(latency.Seconds())
}

func (p *Prometheus) ObserveHoldDuration(d time.Duration) {
	p.holdDuration.Observe(d.Seconds())
}

func (p *Prometheus) ObserveDeferred(replaced bool) {
	p.deferred.WithLabelValues(fmt.Sprint(replaced)).Inc()
}

func (p *Prometheus) ObserveAcquireRetry() { p.retries.Inc() }

func (p *Prometheus) ObserveAcquireTimeout() { p.timeouts.Inc() }

func (p *Prometheus) SetGroupSize(n int) { p.groupSize.Set(float64(n)) }

func (p *Prometheus) SetDeferredQueueSize(n int) { p.deferredQueue.Set(float64(n)) }

func (p *Prometheus) setState(current types.ResourceState) {
	for _, s := range []types.ResourceState{
		types.StateDisconnected, types.StateReleased, types.StateWanted, types.StateHeld,
	} {
		v := 0.0
		if s == current {
			v = 1
		}
		p.state.WithLabelValues(s.String()).Set(v)
	}
}

// statusLabel bounds label cardinality: unknown statuses share one label.
func statusLabel(s protocol.Status) string {
	if s.Known() {
		return string(s)
	}
	return "OTHER"
}

// StartServer serves handler on addr under /metrics in the background.
func StartServer(addr string, handler http.Handler, log logger.Logger) (*http.Server, net.Listener, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("Metrics server stopped with error", "error", err)
		}
	}()
	log.Infow("Metrics server listening", "address", ln.Addr().String())
	return srv, ln, nil
}
