// Package nexus is the gateway between one treadmill and its UDP clients:
// it answers the control protocol, pushes status updates to the connected
// session and announces itself on the discovery port.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/jgoldverg/nexusgw/pkg/metrics"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/jgoldverg/nexusgw/pkg/notify"
	"github.com/jgoldverg/nexusgw/pkg/udplisten"
)

const (
	listenerDiscovery = "discovery"
	listenerControl   = "control"
)

type Config struct {
	ListenAddress string
	// AdvertiseAddress goes into the discovery header; empty means detect.
	AdvertiseAddress  string
	BroadcastAddress  string
	DiscoveryPort     int
	ControlPort       int
	BroadcastInterval time.Duration
	PollInterval      time.Duration
	PingTimeout       time.Duration
	ReadBufferSize    int
}

func DefaultConfig() Config {
	return Config{
		ListenAddress:     "0.0.0.0",
		BroadcastAddress:  "255.255.255.255",
		DiscoveryPort:     nexuswire.DiscoveryPort,
		ControlPort:       nexuswire.ControlPort,
		BroadcastInterval: time.Second,
		PollInterval:      time.Millisecond,
		PingTimeout:       5 * time.Second,
		ReadBufferSize:    64 * 1024,
	}
}

// PacketCounters are process-lifetime diagnostics.
type PacketCounters struct {
	Good              int64
	Bad               int64
	StatusUpdatesSent int64
	// Dropped datagrams never reached the dispatcher: the receive queue was full.
	Dropped int64
}

type outbound struct {
	to  *net.UDPAddr
	buf []byte
}

func udpAddr(addr netip.Addr, port int32) *net.UDPAddr {
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(port)))
}

type Option func(*Gateway)

func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

func WithMetrics(c *metrics.GatewayCollector) Option {
	return func(g *Gateway) { g.metrics = c }
}

// WithClock replaces the wall clock used for ping stamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.clock = now }
}

// Gateway owns both sockets, both schedules and all session state. Every
// mutation of that state happens under mu; datagrams produced while holding
// mu are sent after it is released.
type Gateway struct {
	cfg      Config
	dev      device.Device
	notifier notify.Notifier
	metrics  *metrics.GatewayCollector
	clock    func() time.Time
	badLog   *internal.LimitedLogger
	lm       *udplisten.Manager

	mu          sync.Mutex
	sessions    *SessionManager
	serial      string
	variant     device.Variant
	attached    bool
	firstUpdate float64
	lastStatus  device.StatusSnapshot
	haveStatus  bool
	updateSeq   uint64
	lastStamp   float64
	advertise   string
	controlPort int32

	controlConn   *net.UDPConn
	discoveryConn *net.UDPConn
	broadcastTo   *net.UDPAddr

	pollWake chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

func New(cfg Config, dev device.Device, opts ...Option) (*Gateway, error) {
	if dev == nil {
		return nil, errors.New("nexus: device is required")
	}
	if cfg.PollInterval <= 0 || cfg.BroadcastInterval <= 0 || cfg.PingTimeout <= 0 {
		return nil, errors.New("nexus: intervals and ping timeout must be positive")
	}
	g := &Gateway{
		cfg:         cfg,
		dev:         dev,
		notifier:    notify.Discard,
		clock:       time.Now,
		badLog:      internal.NewLimitedLogger(time.Second, 5),
		lm:          udplisten.NewManager(),
		sessions:    NewSessionManager(),
		controlPort: int32(cfg.ControlPort),
		advertise:   cfg.AdvertiseAddress,
		pollWake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.NewGatewayCollector("")
	}
	g.metrics.SetDroppedSource(func() uint64 { return g.lm.Dropped(listenerControl) })
	return g, nil
}

// Start binds the discovery and control sockets and starts both schedules.
// A bind failure is returned and nothing is left running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return errors.New("nexus: gateway already started")
	}
	g.mu.Unlock()

	opts := udplisten.DefaultOptions()
	opts.ReadBufferSize = g.cfg.ReadBufferSize

	bopts := opts
	bopts.Broadcast = true
	bopts.ReuseAddr = true
	dconn, err := g.lm.Listen(ctx, listenerDiscovery, g.cfg.ListenAddress, g.cfg.DiscoveryPort, &discoveryHandler{g: g}, bopts)
	if err != nil {
		return fmt.Errorf("discovery port %d: %w", g.cfg.DiscoveryPort, err)
	}
	cconn, err := g.lm.Listen(ctx, listenerControl, g.cfg.ListenAddress, g.cfg.ControlPort, &controlHandler{g: g}, opts)
	if err != nil {
		_ = g.lm.CloseAll(ctx)
		return fmt.Errorf("control port %d: %w", g.cfg.ControlPort, err)
	}

	bcast := net.ParseIP(g.cfg.BroadcastAddress)
	if bcast == nil {
		bcast = net.IPv4bcast
	}

	g.mu.Lock()
	g.discoveryConn = dconn
	g.controlConn = cconn
	g.broadcastTo = &net.UDPAddr{IP: bcast, Port: dconn.LocalAddr().(*net.UDPAddr).Port}
	g.controlPort = int32(cconn.LocalAddr().(*net.UDPAddr).Port)
	if g.advertise == "" {
		g.advertise = internal.LocalIPv4()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.running = true
	g.mu.Unlock()

	// serial and variant are known before the first client can connect
	g.announce()

	g.wg.Add(2)
	go g.runBroadcast(runCtx)
	go g.runPoll(runCtx)

	internal.Info("nexus gateway started", internal.Fields{
		internal.FieldKey("discovery"): dconn.LocalAddr().String(),
		internal.FieldKey("control"):   cconn.LocalAddr().String(),
		internal.FieldKey("advertise"): g.advertise,
	})
	return nil
}

// Stop halts both schedules, then closes the sockets.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cancel := g.cancel
	g.mu.Unlock()

	cancel()
	g.wg.Wait()

	err := g.lm.CloseAll(ctx)

	g.mu.Lock()
	g.controlConn = nil
	g.discoveryConn = nil
	g.mu.Unlock()

	internal.Info("nexus gateway stopped", nil)
	return err
}

// ControlAddr is the bound control socket address, nil before Start.
func (g *Gateway) ControlAddr() *net.UDPAddr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.controlConn == nil {
		return nil
	}
	return g.controlConn.LocalAddr().(*net.UDPAddr)
}

func (g *Gateway) DiscoveryAddr() *net.UDPAddr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.discoveryConn == nil {
		return nil
	}
	return g.discoveryConn.LocalAddr().(*net.UDPAddr)
}

func (g *Gateway) Counters() PacketCounters {
	s := g.metrics.Snapshot()
	return PacketCounters{Good: s.Good, Bad: s.Bad, StatusUpdatesSent: s.StatusUpdates, Dropped: s.Dropped}
}

func (g *Gateway) Metrics() *metrics.GatewayCollector { return g.metrics }

// SessionView returns the active client address and ports.
func (g *Gateway) SessionView() (addr string, ports []int32, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	addr, ports = g.sessions.View()
	return addr, ports, g.sessions.Active()
}

// Serial is the treadmill serial the gateway is currently bound to.
func (g *Gateway) Serial() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.serial
}

// stampLocked returns the wall clock as Unix seconds, never going backwards.
func (g *Gateway) stampLocked() float64 {
	ts := float64(g.clock().UnixNano()) / 1e9
	if ts < g.lastStamp {
		ts = g.lastStamp
	}
	g.lastStamp = ts
	return ts
}

// sessionStartedLocked resumes the poll schedule for a new session.
func (g *Gateway) sessionStartedLocked(s *Session, takeover bool) {
	g.metrics.ObserveSessionCreated(takeover)
	g.metrics.SetSessionPorts(len(s.Ports))
	internal.Info("client session started", internal.Fields{
		internal.FieldSessionID: s.ID.String(),
		internal.FieldAddr:      s.Addr.String(),
		internal.FieldPort:      s.Ports[0],
	})
	select {
	case g.pollWake <- struct{}{}:
	default:
	}
}

func (g *Gateway) sessionEndedLocked(id, reason string) {
	g.updateSeq = 0
	g.metrics.SetSessionPorts(0)
	internal.Info("client session ended", internal.Fields{
		internal.FieldSessionID:     id,
		internal.FieldKey("reason"): reason,
	})
}

func (g *Gateway) send(conn *net.UDPConn, out []outbound) {
	if conn == nil {
		return
	}
	for _, o := range out {
		n, err := conn.WriteToUDP(o.buf, o.to)
		if err != nil || n != len(o.buf) {
			g.metrics.ObserveSendError()
			fields := internal.Fields{internal.FieldAddr: o.to.String()}
			if err != nil {
				fields[internal.FieldError] = err.Error()
			}
			internal.Debug("udp send failed", fields)
		}
	}
}

func (g *Gateway) notify(events []notify.Event) {
	for _, ev := range events {
		g.notifier.Notify(ev)
	}
}

func (g *Gateway) event(kind notify.Kind, msg string) notify.Event {
	return notify.Event{Kind: kind, Message: msg, Time: g.clock()}
}
