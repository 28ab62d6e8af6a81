package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultNamespace = "nexusgw"
	subsystemGateway = "gateway"
)

// GatewayCollector counts protocol traffic for one gateway and exposes it
// through its own Prometheus registry.
type GatewayCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry
	startTime time.Time

	good            int64
	bad             int64
	statusUpdates   int64
	broadcasts      int64
	sendErrors      int64
	evictedPorts    int64
	sessionsCreated int64
	takeovers       int64
	sessionPorts    int
	deviceConnected bool
	droppedFn       func() uint64

	commands *prometheus.CounterVec
}

// Snapshot is a point-in-time copy of the counters. Good, Bad and
// StatusUpdates are the packet counters reported by the gateway.
type Snapshot struct {
	Uptime          time.Duration
	Good            int64
	Bad             int64
	StatusUpdates   int64
	Broadcasts      int64
	SendErrors      int64
	EvictedPorts    int64
	SessionsCreated int64
	Takeovers       int64
	SessionPorts    int
	DeviceConnected bool
	Dropped         int64
}

func NewGatewayCollector(namespace string) *GatewayCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	c := &GatewayCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	c.registerMetrics()
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *GatewayCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveCommand records one inbound datagram with its command name and
// whether it was handled.
func (c *GatewayCollector) ObserveCommand(cmd string, handled bool) {
	result := "handled"
	c.mu.Lock()
	if handled {
		c.good++
	} else {
		c.bad++
		result = "rejected"
	}
	c.mu.Unlock()
	c.commands.WithLabelValues(cmd, result).Inc()
}

func (c *GatewayCollector) ObserveStatusUpdate() {
	c.mu.Lock()
	c.statusUpdates++
	c.mu.Unlock()
}

func (c *GatewayCollector) ObserveBroadcast(deviceConnected bool) {
	c.mu.Lock()
	c.broadcasts++
	c.deviceConnected = deviceConnected
	c.mu.Unlock()
}

func (c *GatewayCollector) ObserveSendError() {
	c.mu.Lock()
	c.sendErrors++
	c.mu.Unlock()
}

func (c *GatewayCollector) ObserveEvictions(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.evictedPorts += int64(n)
	c.mu.Unlock()
}

func (c *GatewayCollector) ObserveSessionCreated(takeover bool) {
	c.mu.Lock()
	c.sessionsCreated++
	if takeover {
		c.takeovers++
	}
	c.mu.Unlock()
}

func (c *GatewayCollector) SetSessionPorts(n int) {
	c.mu.Lock()
	c.sessionPorts = n
	c.mu.Unlock()
}

// SetDroppedSource reports datagrams the receive path discarded before
// dispatch. fn must be monotonic.
func (c *GatewayCollector) SetDroppedSource(fn func() uint64) {
	c.mu.Lock()
	c.droppedFn = fn
	c.mu.Unlock()
}

func (c *GatewayCollector) droppedLocked() int64 {
	if c.droppedFn == nil {
		return 0
	}
	return int64(c.droppedFn())
}

func (c *GatewayCollector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Uptime:          time.Since(c.startTime),
		Good:            c.good,
		Bad:             c.bad,
		StatusUpdates:   c.statusUpdates,
		Broadcasts:      c.broadcasts,
		SendErrors:      c.sendErrors,
		EvictedPorts:    c.evictedPorts,
		SessionsCreated: c.sessionsCreated,
		Takeovers:       c.takeovers,
		SessionPorts:    c.sessionPorts,
		DeviceConnected: c.deviceConnected,
		Dropped:         c.droppedLocked(),
	}
}

func (c *GatewayCollector) registerMetrics() {
	read := func(fn func() float64) func() float64 {
		return func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return fn()
		}
	}
	makeCounter := func(name, help string, valueFn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemGateway,
			Name:      name,
			Help:      help,
		}, read(valueFn))
	}
	makeGauge := func(name, help string, valueFn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemGateway,
			Name:      name,
			Help:      help,
		}, read(valueFn))
	}

	c.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: subsystemGateway,
		Name:      "commands_total",
		Help:      "Inbound control datagrams by command and outcome.",
	}, []string{"cmd", "result"})

	c.registry.MustRegister(
		c.commands,
		makeCounter("packets_good_total", "Control datagrams that were handled.",
			func() float64 { return float64(c.good) }),
		makeCounter("packets_bad_total", "Control datagrams that were malformed or rejected.",
			func() float64 { return float64(c.bad) }),
		makeCounter("packets_dropped_total", "Control datagrams dropped because the receive queue was full.",
			func() float64 { return float64(c.droppedLocked()) }),
		makeCounter("status_updates_total", "Status update ticks fanned out to the session.",
			func() float64 { return float64(c.statusUpdates) }),
		makeCounter("discovery_broadcasts_total", "Discovery packets sent.",
			func() float64 { return float64(c.broadcasts) }),
		makeCounter("send_errors_total", "Datagrams that failed to send.",
			func() float64 { return float64(c.sendErrors) }),
		makeCounter("evicted_ports_total", "Client ports removed for missing pings.",
			func() float64 { return float64(c.evictedPorts) }),
		makeCounter("sessions_created_total", "Client sessions created.",
			func() float64 { return float64(c.sessionsCreated) }),
		makeCounter("takeovers_total", "Sessions replaced by a forced connect.",
			func() float64 { return float64(c.takeovers) }),
		makeGauge("session_ports", "Ports registered in the active session.",
			func() float64 { return float64(c.sessionPorts) }),
		makeGauge("device_connected", "1 when the last broadcast saw a device.",
			func() float64 {
				if c.deviceConnected {
					return 1
				}
				return 0
			}),
		makeGauge("uptime_seconds", "Seconds since the collector was created.",
			func() float64 { return time.Since(c.startTime).Seconds() }),
	)
}
