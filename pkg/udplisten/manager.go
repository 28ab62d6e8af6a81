// Package udplisten binds UDP sockets and runs a receive loop per socket that
// hands datagrams to a Handler.
package udplisten

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
)

type Handler interface {
	OnStart(ctx context.Context, pc *net.UDPConn) error
	OnStop(ctx context.Context, pc *net.UDPConn) error
	// HandlePacket owns buf; it is not reused by the pump.
	HandlePacket(ctx context.Context, pc *net.UDPConn, src *net.UDPAddr, buf []byte)
}

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// Workers > 1 gives up per-socket ordering.
	Workers     int
	ReadTimeout time.Duration
	QueueDepth  int
	Broadcast   bool
	// ReuseAddr lets other sockets bind the same port. Leave it off for
	// unicast listeners so a second process fails to bind.
	ReuseAddr bool
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		Workers:         1,
		ReadTimeout:     0,
		QueueDepth:      256,
	}
}

type entry struct {
	pc   *net.UDPConn
	h    Handler
	pump *PktPump
}

// Manager owns a set of named listeners.
type Manager struct {
	mu        sync.Mutex
	listeners map[string]*entry
	// closing holds entries whose pumps CloseAll is still draining
	closing []*closingEntry
	// drops of listeners that were already closed, by name
	retired map[string]uint64
}

type closingEntry struct {
	name string
	e    *entry
}

func NewManager() *Manager {
	return &Manager{listeners: make(map[string]*entry), retired: make(map[string]uint64)}
}

// Listen binds host:port over IPv4 and starts a pump feeding h. Port 0 picks
// an ephemeral port; the bound address is available from the returned conn.
func (m *Manager) Listen(ctx context.Context, name, host string, port int, h Handler, opts Options) (*net.UDPConn, error) {
	m.mu.Lock()
	if _, dup := m.listeners[name]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("listener %q already running", name)
	}
	m.mu.Unlock()

	lc := net.ListenConfig{Control: controlFunc(opts)}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		internal.Error("udp bind failed", internal.Fields{
			internal.FieldAddr:  addr,
			internal.FieldError: err.Error(),
		})
		return nil, fmt.Errorf("bind %s listener on %s: %w", name, addr, err)
	}
	pc := raw.(*net.UDPConn)
	if opts.ReadBufferSize > 0 {
		_ = pc.SetReadBuffer(opts.ReadBufferSize)
	}
	if opts.WriteBufferSize > 0 {
		_ = pc.SetWriteBuffer(opts.WriteBufferSize)
	}

	internal.Info("udp listener bound", internal.Fields{
		internal.FieldKey("listener"): name,
		internal.FieldAddr:            pc.LocalAddr().String(),
	})

	if h != nil {
		if err := h.OnStart(ctx, pc); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("start %s handler: %w", name, err)
		}
	}

	pump := NewPktPump(pc, h, opts)
	m.mu.Lock()
	m.listeners[name] = &entry{pc: pc, h: h, pump: pump}
	m.mu.Unlock()
	pump.Start(ctx)
	return pc, nil
}

// Conn returns the socket of a running listener.
func (m *Manager) Conn(name string) *net.UDPConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.listeners[name]; ok {
		return e.pc
	}
	return nil
}

// Dropped reports datagrams discarded because a listener's queue was full.
// The count survives CloseAll and keeps growing across restarts.
func (m *Manager) Dropped(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.retired[name]
	if e, ok := m.listeners[name]; ok {
		n += e.pump.Dropped()
	}
	for _, c := range m.closing {
		if c.name == name {
			n += c.e.pump.Dropped()
		}
	}
	return n
}

// CloseAll closes every socket to unblock the readers, then waits for the
// pumps to drain.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	entries := m.listeners
	m.listeners = make(map[string]*entry)
	for name, e := range entries {
		m.closing = append(m.closing, &closingEntry{name: name, e: e})
	}
	m.mu.Unlock()

	for name, e := range entries {
		if e.h != nil {
			_ = e.h.OnStop(ctx, e.pc)
		}
		_ = e.pc.Close()
		internal.Debug("udp listener closed", internal.Fields{
			internal.FieldKey("listener"): name,
		})
	}
	for name, e := range entries {
		e.pump.Stop()
		m.mu.Lock()
		m.retired[name] += e.pump.Dropped()
		m.closing = slices.DeleteFunc(m.closing, func(c *closingEntry) bool { return c.e == e })
		m.mu.Unlock()
	}
	return nil
}
