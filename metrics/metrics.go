// Package metrics records the client's traffic and connection-state
// counters. It never participates in correctness (spec.md's Non-goals
// exclude congestion/flow control, not observation of traffic) and is
// always optional: a nil Sink is a safe no-op.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the interface the client core calls into. Satisfied by
// *Prometheus or by a harness-supplied no-op/mock.
type Sink interface {
	BroadcastSent()
	DirectSent()
	MessageReceived()
	Reconnected()
	SetConnected(bool)
	SetPendingCountWaiters(n int)
}

// Prometheus is the default Sink, backed by client_golang collectors
// registered against the given registerer.
type Prometheus struct {
	sent        *prometheus.CounterVec
	received    prometheus.Counter
	reconnects  prometheus.Counter
	connected   prometheus.Gauge
	waiters     prometheus.Gauge
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "centralnet_messages_sent_total",
			Help: "Messages enqueued to the outbound queue, by kind.",
		}, []string{"kind"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "centralnet_messages_received_total",
			Help: "Frames delivered into the inbound channel by the background worker.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "centralnet_reconnects_total",
			Help: "Number of times the background worker re-established the connection.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "centralnet_client_connected",
			Help: "1 if the background worker currently holds a live connection.",
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "centralnet_pending_client_count_waiters",
			Help: "Outstanding RequestClientCount callers awaiting a response.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.sent, p.received, p.reconnects, p.connected, p.waiters)
	}
	return p
}

func (p *Prometheus) BroadcastSent()    { p.sent.WithLabelValues("broadcast").Inc() }
func (p *Prometheus) DirectSent()       { p.sent.WithLabelValues("direct").Inc() }
func (p *Prometheus) MessageReceived()  { p.received.Inc() }
func (p *Prometheus) Reconnected()      { p.reconnects.Inc() }
func (p *Prometheus) SetConnected(c bool) {
	if c {
		p.connected.Set(1)
	} else {
		p.connected.Set(0)
	}
}
func (p *Prometheus) SetPendingCountWaiters(n int) { p.waiters.Set(float64(n)) }

// Noop discards every call; used when a harness doesn't care to observe
// traffic.
type Noop struct{}

func (Noop) BroadcastSent()              {}
func (Noop) DirectSent()                 {}
func (Noop) MessageReceived()            {}
func (Noop) Reconnected()                {}
func (Noop) SetConnected(bool)           {}
func (Noop) SetPendingCountWaiters(int)  {}
