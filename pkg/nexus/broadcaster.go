package nexus

import (
	"context"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
)

func (g *Gateway) runBroadcast(ctx context.Context) {
	defer g.wg.Done()

	t := time.NewTicker(g.cfg.BroadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		g.announce()
	}
}

// announce runs one broadcast tick and sends the packet.
func (g *Gateway) announce() {
	buf, present := g.broadcastTick()
	if buf == nil {
		return
	}
	g.mu.Lock()
	conn, to := g.discoveryConn, g.broadcastTo
	g.mu.Unlock()
	g.send(conn, []outbound{{to: to, buf: buf}})
	g.metrics.ObserveBroadcast(present)
}

// broadcastTick refreshes device detection and builds one discovery packet.
// present reports whether a device record was included.
func (g *Gateway) broadcastTick() (buf []byte, present bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pkt := nexuswire.DiscoveryPacket{SourceIPv4: g.advertise}

	if g.refreshDeviceLocked() {
		if ds, ok := g.deviceStatusLocked(); ok {
			pkt.Devices = append(pkt.Devices, ds)
		}
	}
	if len(pkt.Devices) == 0 {
		g.firstUpdate = 0
	}

	buf, err := nexuswire.EncodeDiscovery(&pkt)
	if err != nil {
		internal.Error("encode discovery packet", internal.Fields{internal.FieldError: err.Error()})
		return nil, false
	}
	return buf, len(pkt.Devices) > 0
}

// refreshDeviceLocked detects the connected variant and re-attaches to the
// status block when the serial changed.
func (g *Gateway) refreshDeviceLocked() bool {
	v, ok := device.Detect(g.dev)
	serial := ""
	if ok {
		serial = g.dev.Serial()
	}
	if !ok || serial == "" {
		if g.serial != "" {
			internal.Info("treadmill disconnected", internal.Fields{internal.FieldSerial: g.serial})
		}
		g.serial = ""
		g.variant = device.VariantNone
		g.attached = false
		return false
	}

	if serial != g.serial || !g.attached {
		if err := g.dev.Attach(serial); err != nil {
			internal.Warn("attach to treadmill failed", internal.Fields{
				internal.FieldSerial: serial,
				internal.FieldError:  err.Error(),
			})
			g.attached = false
		} else {
			g.attached = true
			g.haveStatus = false
			internal.Info("treadmill attached", internal.Fields{
				internal.FieldSerial:  serial,
				internal.FieldVariant: v.String(),
			})
		}
	}
	g.serial = serial
	g.variant = v
	return true
}

func (g *Gateway) deviceStatusLocked() (nexuswire.DeviceStatus, bool) {
	snap, err := g.dev.ReadStatus(g.serial)
	if err != nil {
		internal.Debug("read device status", internal.Fields{
			internal.FieldSerial: g.serial,
			internal.FieldError:  err.Error(),
		})
		return nexuswire.DeviceStatus{}, false
	}
	if g.firstUpdate == 0 && snap.Timestamp > 0 {
		g.firstUpdate = snap.Timestamp
	}

	ds := nexuswire.DeviceStatus{
		LastUpdate:      snap.Timestamp - g.firstUpdate,
		PID:             snap.PID,
		VID:             snap.VID,
		Serial:          g.serial,
		SensorConnected: snap.SensorConnected,
		SensorPackets:   snap.SensorPackets,
		ControlPort:     g.controlPort,
	}
	if g.haveStatus {
		ds.SensorBattery = g.lastStatus.SensorBattery
	}
	if s := g.sessions.Current(); s != nil {
		ds.ClientIPv4 = s.Addr.String()
		ds.ClientPortCount = uint8(len(s.Ports))
		copy(ds.ClientPorts[:], s.Ports)
	}
	return ds, true
}
