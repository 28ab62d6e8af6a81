package nexus

import (
	"net/netip"
	"slices"

	"github.com/google/uuid"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
)

// Session is the one client address allowed to receive status updates, with
// up to MaxClientPorts ports. Ports and LastPing are parallel slices.
type Session struct {
	ID       uuid.UUID
	Addr     netip.Addr
	Ports    []int32
	LastPing []float64
}

func (s *Session) indexOf(port int32) int {
	return slices.Index(s.Ports, port)
}

// ConnectOutcome describes the reply to a Connect.
type ConnectOutcome struct {
	Connected bool
	Status    byte
	Created   bool
	// Replaced is the session a forced connect took over, if any.
	Replaced *Session
}

// SessionManager implements the admission rules for Connect, Ping and
// Disconnect plus ping-age eviction. It is not safe for concurrent use; the
// gateway serializes access.
type SessionManager struct {
	cur      *Session
	maxPorts int
}

func NewSessionManager() *SessionManager {
	return &SessionManager{maxPorts: nexuswire.MaxClientPorts}
}

func (m *SessionManager) Active() bool { return m.cur != nil }

// Current returns the active session or nil. Callers must not mutate it.
func (m *SessionManager) Current() *Session { return m.cur }

func (m *SessionManager) create(addr netip.Addr, port int32, now float64) *Session {
	m.cur = &Session{
		ID:       uuid.New(),
		Addr:     addr,
		Ports:    []int32{port},
		LastPing: []float64{now},
	}
	return m.cur
}

// Connect applies the connect admission rules.
func (m *SessionManager) Connect(addr netip.Addr, port int32, force bool, now float64) ConnectOutcome {
	var out ConnectOutcome
	if m.cur != nil && m.cur.Addr != addr {
		if !force {
			return ConnectOutcome{Status: nexuswire.StatusBusy}
		}
		out.Replaced = m.cur
		m.cur = nil
	}

	if m.cur == nil {
		m.create(addr, port, now)
		out.Connected = true
		out.Status = nexuswire.StatusOK
		out.Created = true
		return out
	}

	switch {
	case m.cur.indexOf(port) >= 0:
		out.Connected = true
		out.Status = nexuswire.StatusAlreadyConnected
	case len(m.cur.Ports) < m.maxPorts:
		m.cur.Ports = append(m.cur.Ports, port)
		m.cur.LastPing = append(m.cur.LastPing, now)
		out.Connected = true
		out.Status = nexuswire.StatusOK
	default:
		out.Status = nexuswire.StatusNotConnected
	}
	return out
}

// Ping applies the ping admission rules. accepted means the reply is a Pong.
func (m *SessionManager) Ping(addr netip.Addr, port int32, now float64) (accepted, created bool) {
	if m.cur == nil {
		m.create(addr, port, now)
		return true, true
	}
	if m.cur.Addr != addr {
		return false, false
	}
	if i := m.cur.indexOf(port); i >= 0 {
		m.cur.LastPing[i] = now
		return true, false
	}
	if len(m.cur.Ports) < m.maxPorts {
		m.cur.Ports = append(m.cur.Ports, port)
		m.cur.LastPing = append(m.cur.LastPing, now)
		return true, false
	}
	return false, false
}

// Disconnect removes port when addr owns the session. ended is true when
// that was the last port.
func (m *SessionManager) Disconnect(addr netip.Addr, port int32) (removed, ended bool) {
	if m.cur == nil || m.cur.Addr != addr {
		return false, false
	}
	i := m.cur.indexOf(port)
	if i < 0 {
		return false, false
	}
	if len(m.cur.Ports) == 1 {
		m.cur = nil
		return true, true
	}
	m.cur.Ports = slices.Delete(m.cur.Ports, i, i+1)
	m.cur.LastPing = slices.Delete(m.cur.LastPing, i, i+1)
	return true, false
}

// Evict drops every port whose last ping is more than timeout seconds older
// than now.
func (m *SessionManager) Evict(now, timeout float64) (evicted []int32, ended bool) {
	if m.cur == nil {
		return nil, false
	}
	for i := len(m.cur.Ports) - 1; i >= 0; i-- {
		if now-m.cur.LastPing[i] > timeout {
			evicted = append(evicted, m.cur.Ports[i])
			m.cur.Ports = slices.Delete(m.cur.Ports, i, i+1)
			m.cur.LastPing = slices.Delete(m.cur.LastPing, i, i+1)
		}
	}
	if len(m.cur.Ports) == 0 {
		m.cur = nil
		return evicted, true
	}
	return evicted, false
}

// View returns the client address and a copy of its ports; zero values when
// there is no session.
func (m *SessionManager) View() (addr string, ports []int32) {
	if m.cur == nil {
		return "", nil
	}
	return m.cur.Addr.String(), slices.Clone(m.cur.Ports)
}
