package nexus

import (
	"context"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
)

// runPoll drives the status bridge. The ticker is stopped while no session
// exists and restarted when sessionStartedLocked signals pollWake.
func (g *Gateway) runPoll(ctx context.Context) {
	defer g.wg.Done()

	t := time.NewTicker(g.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		out, active := g.pollTick()
		if len(out) > 0 {
			g.mu.Lock()
			conn := g.controlConn
			g.mu.Unlock()
			g.send(conn, out)
		}
		if active {
			continue
		}

		t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-g.pollWake:
		}
		t.Reset(g.cfg.PollInterval)
	}
}

// pollTick reads one status snapshot and, when it carries new data, evicts
// stale ports and fans a status update out to the remaining ones. active is
// false once there is no session left to serve.
func (g *Gateway) pollTick() (out []outbound, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.sessions.Active() {
		g.updateSeq = 0
		return nil, false
	}

	snap, err := g.dev.ReadStatus(g.serial)
	if err != nil {
		// no device yet; the broadcaster logs attach problems
		return nil, true
	}
	if g.haveStatus && snap.Timestamp == g.lastStatus.Timestamp {
		return nil, true
	}
	g.lastStatus = snap
	g.haveStatus = true

	id := g.sessions.Current().ID.String()
	evicted, ended := g.sessions.Evict(g.stampLocked(), g.cfg.PingTimeout.Seconds())
	if len(evicted) > 0 {
		g.metrics.ObserveEvictions(len(evicted))
		internal.Info("evicted stale client ports", internal.Fields{
			internal.FieldSessionID:    id,
			internal.FieldKey("ports"): joinPorts(evicted),
		})
	}
	if ended {
		g.sessionEndedLocked(id, "ping timeout")
		return nil, false
	}

	upd := nexuswire.StatusUpdate{Counter: g.updateSeq, Payload: snap.Payload}
	buf := make([]byte, upd.EncodedLen())
	if _, err := upd.Encode(buf); err != nil {
		internal.Error("encode status update", internal.Fields{internal.FieldError: err.Error()})
		return nil, true
	}

	s := g.sessions.Current()
	for _, port := range s.Ports {
		out = append(out, outbound{to: udpAddr(s.Addr, port), buf: buf})
	}
	g.updateSeq++
	g.metrics.ObserveStatusUpdate()
	g.metrics.SetSessionPorts(len(s.Ports))
	return out, true
}
