package nexus

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/jgoldverg/nexusgw/pkg/notify"
)

// result is what handling one control datagram produced.
type result struct {
	cmd     string
	handled bool
	out     []outbound
	events  []notify.Event
}

func commandName(cmd byte) string {
	switch cmd {
	case nexuswire.CmdPing:
		return "ping"
	case nexuswire.CmdPong:
		return "pong"
	case nexuswire.CmdSysConfig:
		return "sysconfig"
	case nexuswire.CmdConnect:
		return "connect"
	case nexuswire.CmdDisconnect:
		return "disconnect"
	case nexuswire.CmdSetHaptic:
		return "haptic"
	case nexuswire.CmdSetLED:
		return "led"
	}
	return "unknown"
}

func validPort(p int32) bool { return p > 0 && p <= 65535 }

type controlHandler struct{ g *Gateway }

func (h *controlHandler) OnStart(context.Context, *net.UDPConn) error { return nil }
func (h *controlHandler) OnStop(context.Context, *net.UDPConn) error  { return nil }

func (h *controlHandler) HandlePacket(_ context.Context, pc *net.UDPConn, src *net.UDPAddr, buf []byte) {
	g := h.g
	res := g.dispatch(src, buf)
	g.metrics.ObserveCommand(res.cmd, res.handled)
	if !res.handled {
		g.badLog.Warn("control packet not handled", internal.Fields{
			internal.FieldAddr:         src.String(),
			internal.FieldCmd:          res.cmd,
			internal.FieldKey("bytes"): len(buf),
		})
	}
	g.send(pc, res.out)
	g.notify(res.events)
}

// dispatch validates the prefix and routes by command byte.
func (g *Gateway) dispatch(src *net.UDPAddr, buf []byte) result {
	cmd, ok := nexuswire.PeekCommand(buf)
	if !ok {
		return result{cmd: "malformed"}
	}
	addr := src.AddrPort().Addr().Unmap()

	g.mu.Lock()
	defer g.mu.Unlock()

	res := result{cmd: commandName(cmd)}
	switch cmd {
	case nexuswire.CmdPing:
		g.handlePingLocked(addr, src, buf, &res)
	case nexuswire.CmdPong:
		res.handled = true
	case nexuswire.CmdConnect:
		g.handleConnectLocked(addr, src, buf, &res)
	case nexuswire.CmdDisconnect:
		g.handleDisconnectLocked(addr, buf, &res)
	case nexuswire.CmdSysConfig:
		g.handleSysConfigLocked(buf, &res)
	case nexuswire.CmdSetHaptic, nexuswire.CmdSetLED:
		g.handleIntensityLocked(cmd, buf, &res)
	}
	return res
}

func (g *Gateway) handlePingLocked(addr netip.Addr, src *net.UDPAddr, buf []byte, res *result) {
	p, err := nexuswire.DecodePing(buf)
	if err != nil || !validPort(p.Port) {
		return
	}
	now := g.stampLocked()
	accepted, created := g.sessions.Ping(addr, p.Port, now)
	to := &net.UDPAddr{IP: src.IP, Port: int(p.Port), Zone: src.Zone}
	if !accepted {
		res.out = append(res.out, outbound{to: to, buf: p.Reset(now, nexuswire.StatusNotConnected)})
		return
	}
	if created {
		g.sessionStartedLocked(g.sessions.Current(), false)
	}
	res.handled = true
	res.out = append(res.out, outbound{to: to, buf: p.Pong(now)})
}

func (g *Gateway) handleConnectLocked(addr netip.Addr, src *net.UDPAddr, buf []byte, res *result) {
	var req nexuswire.ConnectRequest
	if _, err := req.Decode(buf); err != nil || !validPort(req.Port) {
		return
	}
	oc := g.sessions.Connect(addr, req.Port, req.Force, g.stampLocked())

	if oc.Replaced != nil {
		reset := nexuswire.ResetPacket(nexuswire.StatusResetByTakeover)
		for _, port := range oc.Replaced.Ports {
			res.out = append(res.out, outbound{
				to:  udpAddr(oc.Replaced.Addr, port),
				buf: reset,
			})
		}
		g.sessionEndedLocked(oc.Replaced.ID.String(), "takeover")
	}
	if oc.Created {
		g.sessionStartedLocked(g.sessions.Current(), oc.Replaced != nil)
	}

	msg := g.serial
	switch {
	case !oc.Connected && oc.Status == nexuswire.StatusBusy:
		msg = "Reject: busy"
	case !oc.Connected:
		msg = "Reject: limit"
	}
	reply := nexuswire.ConnectResult{
		Failed:      !oc.Connected,
		Status:      oc.Status,
		ControlPort: g.controlPort,
		Message:     msg,
	}
	res.out = append(res.out, outbound{
		to:  &net.UDPAddr{IP: src.IP, Port: int(req.Port), Zone: src.Zone},
		buf: reply.Bytes(),
	})

	cur, ports := g.sessions.View()
	res.events = append(res.events, g.event(notify.KindConnection, fmt.Sprintf(
		"Connection result: %t/%d/%s. Current connection: %s:[%s]",
		oc.Connected, oc.Status, msg, cur, joinPorts(ports))))
	res.handled = oc.Connected
}

func (g *Gateway) handleDisconnectLocked(addr netip.Addr, buf []byte, res *result) {
	var req nexuswire.DisconnectRequest
	if _, err := req.Decode(buf); err != nil {
		return
	}
	var id string
	if s := g.sessions.Current(); s != nil {
		id = s.ID.String()
	}
	removed, ended := g.sessions.Disconnect(addr, req.Port)
	if ended {
		g.sessionEndedLocked(id, "disconnect")
		res.events = append(res.events, g.event(notify.KindSession, "Client disconnected: "+addr.String()))
	}
	res.handled = removed
}

func (g *Gateway) handleSysConfigLocked(buf []byte, res *result) {
	serial, err := nexuswire.SysConfigSerial(buf)
	if err != nil {
		return
	}
	if g.serial == "" || serial != g.serial {
		internal.Warn("sysconfig serial mismatch", internal.Fields{
			internal.FieldSerial:      serial,
			internal.FieldKey("want"): g.serial,
		})
		return
	}
	var sc nexuswire.SysConfig
	if _, err := sc.Decode(buf); err != nil {
		return
	}

	fail := func(what string, err error) {
		internal.Warn("sysconfig write failed", internal.Fields{
			internal.FieldSerial:        serial,
			internal.FieldKey("record"): what,
			internal.FieldError:         err.Error(),
		})
	}
	if err := g.dev.WriteDriverConfig(serial, sc.Driver[:]); err != nil {
		fail("driver", err)
		return
	}
	if err := g.dev.WriteInputConfig(serial, sc.Input[:]); err != nil {
		fail("input", err)
		return
	}
	if g.variant.RequiresCalibration() {
		// variant-specific, never fatal
		if err := g.dev.WriteCalibrationConfig(serial, sc.Calibration[:]); err != nil {
			fail("calibration", err)
		}
	}
	if err := g.dev.WriteInputCalibration(serial, sc.InputCalibration[:]); err != nil {
		fail("input_calibration", err)
		return
	}
	res.handled = true
}

func (g *Gateway) handleIntensityLocked(cmd byte, buf []byte, res *result) {
	v, err := nexuswire.DecodeIntensity(buf)
	if err != nil {
		return
	}
	if cmd == nexuswire.CmdSetHaptic {
		err = g.dev.SetHapticIntensity(v)
	} else {
		err = g.dev.SetLedIntensity(v)
	}
	if err != nil {
		internal.Debug("actuator unavailable", internal.Fields{
			internal.FieldCmd:   commandName(cmd),
			internal.FieldError: err.Error(),
		})
	}
	res.handled = true
}

func joinPorts(ports []int32) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ",")
}
