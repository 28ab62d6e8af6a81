package nexus

import (
	"net/netip"
	"slices"
	"testing"

	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
)

var (
	addrA = netip.MustParseAddr("192.168.1.10")
	addrB = netip.MustParseAddr("192.168.1.20")
)

func TestConnectCreatesSession(t *testing.T) {
	m := NewSessionManager()
	oc := m.Connect(addrA, 5000, false, 1)
	if !oc.Connected || oc.Status != nexuswire.StatusOK || !oc.Created {
		t.Fatalf("unexpected outcome: %+v", oc)
	}
	s := m.Current()
	if s == nil || s.Addr != addrA || !slices.Equal(s.Ports, []int32{5000}) {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestConnectPortLimit(t *testing.T) {
	m := NewSessionManager()
	for p := int32(5000); p < 5000+nexuswire.MaxClientPorts; p++ {
		if oc := m.Connect(addrA, p, false, 1); !oc.Connected {
			t.Fatalf("port %d rejected: %+v", p, oc)
		}
	}
	oc := m.Connect(addrA, 6000, false, 1)
	if oc.Connected || oc.Status != nexuswire.StatusNotConnected {
		t.Fatalf("ninth port should be refused with status 2, got %+v", oc)
	}
	if n := len(m.Current().Ports); n != nexuswire.MaxClientPorts {
		t.Fatalf("port count changed to %d", n)
	}

	oc = m.Connect(addrA, 5003, false, 2)
	if !oc.Connected || oc.Status != nexuswire.StatusAlreadyConnected || oc.Created {
		t.Fatalf("re-admit should report already connected, got %+v", oc)
	}
	if n := len(m.Current().Ports); n != nexuswire.MaxClientPorts {
		t.Fatalf("re-admit changed port count to %d", n)
	}
}

func TestConnectBusyAndTakeover(t *testing.T) {
	m := NewSessionManager()
	m.Connect(addrA, 5000, false, 1)
	m.Connect(addrA, 5001, false, 1)
	first := m.Current().ID

	oc := m.Connect(addrB, 7000, false, 2)
	if oc.Connected || oc.Status != nexuswire.StatusBusy || oc.Replaced != nil {
		t.Fatalf("expected busy rejection, got %+v", oc)
	}
	if m.Current().Addr != addrA {
		t.Fatal("busy rejection modified the session")
	}

	oc = m.Connect(addrB, 7000, true, 3)
	if !oc.Connected || !oc.Created || oc.Replaced == nil {
		t.Fatalf("expected takeover, got %+v", oc)
	}
	if oc.Replaced.ID != first || !slices.Equal(oc.Replaced.Ports, []int32{5000, 5001}) {
		t.Fatalf("replaced session wrong: %+v", oc.Replaced)
	}
	s := m.Current()
	if s.Addr != addrB || !slices.Equal(s.Ports, []int32{7000}) || s.ID == first {
		t.Fatalf("new session wrong: %+v", s)
	}
}

func TestForceFromSameAddressDoesNotReplace(t *testing.T) {
	m := NewSessionManager()
	m.Connect(addrA, 5000, false, 1)
	oc := m.Connect(addrA, 5001, true, 1)
	if oc.Replaced != nil || oc.Created || !oc.Connected {
		t.Fatalf("unexpected outcome: %+v", oc)
	}
}

func TestPingAdmission(t *testing.T) {
	m := NewSessionManager()
	accepted, created := m.Ping(addrA, 5000, 10)
	if !accepted || !created {
		t.Fatalf("first ping should create a session: accepted=%v created=%v", accepted, created)
	}

	if accepted, _ := m.Ping(addrB, 5000, 11); accepted {
		t.Fatal("ping from a foreign address accepted")
	}
	if m.Current().Addr != addrA || m.Current().LastPing[0] != 10 {
		t.Fatal("foreign ping modified the session")
	}

	if accepted, created := m.Ping(addrA, 5000, 12); !accepted || created {
		t.Fatal("known port ping not accepted")
	}
	if got := m.Current().LastPing[0]; got != 12 {
		t.Fatalf("last ping not refreshed: %v", got)
	}

	for p := int32(5001); p < 5000+nexuswire.MaxClientPorts; p++ {
		if accepted, _ := m.Ping(addrA, p, 13); !accepted {
			t.Fatalf("port %d refused", p)
		}
	}
	if accepted, _ := m.Ping(addrA, 6000, 14); accepted {
		t.Fatal("ninth port accepted by ping")
	}
}

func TestDisconnect(t *testing.T) {
	m := NewSessionManager()
	m.Connect(addrA, 5000, false, 1)
	m.Connect(addrA, 5001, false, 1)

	if removed, _ := m.Disconnect(addrB, 5000); removed {
		t.Fatal("foreign disconnect removed a port")
	}
	if removed, _ := m.Disconnect(addrA, 9999); removed {
		t.Fatal("unknown port removed")
	}
	removed, ended := m.Disconnect(addrA, 5000)
	if !removed || ended {
		t.Fatalf("removed=%v ended=%v", removed, ended)
	}
	if !slices.Equal(m.Current().Ports, []int32{5001}) || len(m.Current().LastPing) != 1 {
		t.Fatalf("ports after removal: %v", m.Current().Ports)
	}
	removed, ended = m.Disconnect(addrA, 5001)
	if !removed || !ended || m.Active() {
		t.Fatalf("last port should end the session: removed=%v ended=%v", removed, ended)
	}

	accepted, created := m.Ping(addrB, 7000, 2)
	if !accepted || !created || m.Current().Addr != addrB {
		t.Fatal("ping after session end should auto-create for the new address")
	}
}

func TestEvict(t *testing.T) {
	m := NewSessionManager()
	m.Connect(addrA, 5000, false, 100)
	m.Connect(addrA, 5001, false, 100)
	m.Ping(addrA, 5001, 104)

	evicted, ended := m.Evict(105.5, 5)
	if !slices.Equal(evicted, []int32{5000}) || ended {
		t.Fatalf("evicted=%v ended=%v", evicted, ended)
	}
	if evicted, _ := m.Evict(109, 5); len(evicted) != 0 {
		t.Fatalf("port at exactly the limit evicted: %v", evicted)
	}
	evicted, ended = m.Evict(109.1, 5)
	if !slices.Equal(evicted, []int32{5001}) || !ended || m.Active() {
		t.Fatalf("evicted=%v ended=%v", evicted, ended)
	}
	if addr, ports := m.View(); addr != "" || ports != nil {
		t.Fatalf("view after end: %q %v", addr, ports)
	}
}
