package nexus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/jgoldverg/nexusgw/pkg/notify"
)

// A sensor reporting fewer packets than this is shown as having no signal.
const minSensorPackets = 50

var sensorNames = [nexuswire.SensorCount]string{"dir", "left", "right"}

// discoveryHandler reads the broadcast socket, which also receives the
// gateway's own announcements and those of other gateways on the subnet.
type discoveryHandler struct{ g *Gateway }

func (h *discoveryHandler) OnStart(context.Context, *net.UDPConn) error { return nil }
func (h *discoveryHandler) OnStop(context.Context, *net.UDPConn) error  { return nil }

func (h *discoveryHandler) HandlePacket(_ context.Context, _ *net.UDPConn, _ *net.UDPAddr, buf []byte) {
	h.g.notifier.Notify(h.g.event(notify.KindDiscovery, DescribeDiscovery(buf)))
}

// DescribeDiscovery renders a received discovery datagram as a one-line
// summary, or "ERR: Invalid packet" when it cannot be decoded.
func DescribeDiscovery(buf []byte) string {
	var p nexuswire.DiscoveryPacket
	if _, err := p.Decode(buf); err != nil {
		return "ERR: Invalid packet"
	}
	return FormatDiscovery(&p)
}

func FormatDiscovery(p *nexuswire.DiscoveryPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found Nexus: %s (%d)", p.SourceIPv4, len(p.Devices))
	for i := range p.Devices {
		d := &p.Devices[i]
		fmt.Fprintf(&b, "[:%d %s @ %s @ (%d:%d:%d:%s)]",
			d.ControlPort, d.Serial,
			strconv.FormatFloat(d.LastUpdate, 'f', -1, 64),
			d.SensorPackets[0], d.SensorPackets[1], d.SensorPackets[2],
			SensorHealth(d))
	}
	return b.String()
}

// SensorHealth is "OK" or "no signal" followed by the quiet sensors.
func SensorHealth(d *nexuswire.DeviceStatus) string {
	problem := ""
	for i, n := range d.SensorPackets {
		if n < minSensorPackets {
			problem += ":" + sensorNames[i]
		}
	}
	if problem == "" {
		return "OK"
	}
	return "no signal" + problem
}
