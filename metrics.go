package ports

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsSeq disambiguates the registry label across multiple *Node
// instances created in the same process (common in tests), the same role
// expvar's per-host prefix played in the teacher's metrics.go.
var metricsSeq atomic.Int64

// Metrics tracks operational counters for a Node. Unlike the teacher's
// expvar-based Metrics, these are backed by a dedicated prometheus.Registry
// so a diagnostics server (see cmd/netdemo) can expose them over /metrics
// without colliding with other packages publishing to the default registry.
type Metrics struct {
	Registry *prometheus.Registry

	PortsCreated  prometheus.Counter
	PortsClosed   prometheus.Counter
	PortsAccepted prometheus.Counter

	MessagesSent      prometheus.Counter
	MessagesForwarded prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter

	ProxiesCreated  prometheus.Counter
	ProxiesRetired  prometheus.Counter

	ObserveProxySent      prometheus.Counter
	ObserveProxyAckSent   prometheus.Counter
	ObserveClosureSent    prometheus.Counter

	PortsActive prometheus.GaugeFunc
}

// NewMetrics creates a Metrics instance with its own prometheus.Registry.
// Pass the result to WithMetrics, or call node.Metrics().Registry to mount
// promhttp.HandlerFor yourself.
func NewMetrics(activePorts func() int) *Metrics {
	seq := metricsSeq.Add(1)
	namespace := "ports"
	constLabels := prometheus.Labels{"node_seq": strconv.FormatInt(seq, 10)}

	reg := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		Registry: reg,

		PortsCreated:  counter("ports_created_total", "Ports created via CreateUninitializedPort/CreatePortPair."),
		PortsClosed:   counter("ports_closed_total", "Ports closed with ClosePort."),
		PortsAccepted: counter("ports_accepted_total", "Ports instantiated locally on behalf of a remote sender."),

		MessagesSent:      counter("messages_sent_total", "User messages accepted by SendMessage."),
		MessagesForwarded: counter("messages_forwarded_total", "User messages relayed onward by a proxying port."),
		MessagesDelivered: counter("messages_delivered_total", "User messages returned by GetMessage/GetMessageIf."),
		MessagesDropped:   counter("messages_dropped_total", "Messages silently dropped (unknown port, retired port, or closed peer)."),

		ProxiesCreated: counter("proxies_created_total", "Ports transitioned into Buffering by an outgoing port transfer."),
		ProxiesRetired: counter("proxies_retired_total", "Proxying ports erased by MaybeRemoveProxy."),

		ObserveProxySent:    counter("observe_proxy_sent_total", "ObserveProxy events forwarded."),
		ObserveProxyAckSent: counter("observe_proxy_ack_sent_total", "ObserveProxyAck events forwarded."),
		ObserveClosureSent:  counter("observe_closure_sent_total", "ObserveClosure events forwarded."),
	}

	if activePorts != nil {
		m.PortsActive = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ports_active",
			Help:        "Ports currently present in the registry, any state.",
			ConstLabels: constLabels,
		}, func() float64 { return float64(activePorts()) })
		reg.MustRegister(m.PortsActive)
	}

	return m
}

// Handler returns an http.Handler exposing this Metrics' registry in the
// Prometheus exposition format. Mount it at "/metrics".
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
