package cli

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jgoldverg/nexusgw/cli/output"
	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/jgoldverg/nexusgw/pkg/nexus"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"gopkg.in/yaml.v3"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if _, err := runRoot(t, "--config", path, "config", "set", "--control-port", "4000", "--device-mode", "none"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := internal.LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.ControlPort != 4000 || cfg.DeviceMode != "none" {
		t.Fatalf("persisted control_port=%d device_mode=%q", cfg.ControlPort, cfg.DeviceMode)
	}
	if cfg.DiscoveryPort != 1181 {
		t.Fatalf("untouched key changed: discovery_port=%d", cfg.DiscoveryPort)
	}
}

func TestConfigSetRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	cases := [][]string{
		{"config", "set"},
		{"config", "set", "--control-port", "70000"},
		{"config", "set", "--device-mode", "hardware"},
		{"config", "set", "--log-level", "loud"},
	}
	for _, args := range cases {
		if _, err := runRoot(t, append([]string{"--config", path}, args...)...); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestConfigShowYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.toml")
	out, err := runRoot(t, "--config", path, "config", "show", "-o", "yaml")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var got map[string]string
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, out)
	}
	if got["control_port"] != "3500" || got["device_mode"] != "sim" || got["gateway_id"] == "" {
		t.Fatalf("unexpected config: %v", got)
	}
}

func TestModeFlag(t *testing.T) {
	var m modeFlag
	if err := m.Set("none"); err != nil || m.String() != "none" {
		t.Fatalf("Set(none): %v %q", err, m.String())
	}
	if err := m.Set("usb"); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestGatewayOptions(t *testing.T) {
	cfg := &internal.GatewayConfig{
		ListenAddress:       "127.0.0.1",
		BroadcastAddress:    "10.0.0.255",
		DiscoveryPort:       1181,
		ControlPort:         3500,
		BroadcastIntervalMs: 250,
		PollIntervalUs:      500,
		PingTimeoutMs:       5000,
		UDPReadBufferSize:   4096,
	}
	got := GatewayOptions(cfg)
	if got.BroadcastInterval != 250*time.Millisecond || got.PollInterval != 500*time.Microsecond ||
		got.PingTimeout != 5*time.Second || got.ReadBufferSize != 4096 || got.BroadcastAddress != "10.0.0.255" {
		t.Fatalf("GatewayOptions = %+v", got)
	}
}

func TestWatchRecord(t *testing.T) {
	pkt := nexuswire.DiscoveryPacket{
		SourceIPv4: "192.168.1.2",
		Devices: []nexuswire.DeviceStatus{{
			Serial:          "KAT0000012345",
			ControlPort:     3500,
			VID:             0xC4F4,
			SensorPackets:   [3]int32{100, 100, 10},
			ClientIPv4:      "192.168.1.10",
			ClientPortCount: 1,
			ClientPorts:     [8]int32{5005},
		}},
	}
	buf, err := nexuswire.EncodeDiscovery(&pkt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := datagram{src: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 2), Port: 1181}, buf: buf}

	var out bytes.Buffer
	p := output.NewPrinter().WithWriter(&out)
	if err := printDiscovery(p, "yaml", d); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var rec watchRecord
	if err := yaml.Unmarshal([]byte(strings.TrimPrefix(out.String(), "---\n")), &rec); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out.String())
	}
	if rec.Source != "192.168.1.2" || len(rec.Devices) != 1 {
		t.Fatalf("record %+v", rec)
	}
	dev := rec.Devices[0]
	if dev.Serial != "KAT0000012345" || dev.VID != "c4f4" || dev.Health != "no signal:right" || len(dev.ClientPorts) != 1 {
		t.Fatalf("device %+v", dev)
	}

	out.Reset()
	if err := printDiscovery(p, "text", datagram{src: d.src, buf: []byte{1, 2}}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if strings.TrimSpace(out.String()) != "ERR: Invalid packet" {
		t.Fatalf("text output %q", out.String())
	}
}

func startLoopbackGateway(t *testing.T) *nexus.Gateway {
	t.Helper()
	sim, err := device.NewSimulator(device.SimConfig{Serial: "KATCLI0000001"})
	if err != nil {
		t.Fatalf("simulator: %v", err)
	}
	cfg := nexus.DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	cfg.AdvertiseAddress = "127.0.0.1"
	cfg.BroadcastAddress = "127.0.0.1"
	cfg.DiscoveryPort = 0
	cfg.ControlPort = 0
	cfg.BroadcastInterval = 10 * time.Millisecond
	gw, err := nexus.New(cfg, sim)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if err := gw.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = gw.Stop(context.Background()) })

	deadline := time.Now().Add(3 * time.Second)
	for gw.Serial() == "" {
		if time.Now().After(deadline) {
			t.Fatal("simulated device never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return gw
}

func TestClientCommandsAgainstGateway(t *testing.T) {
	gw := startLoopbackGateway(t)
	ctrl := strconv.Itoa(gw.ControlAddr().Port)
	path := filepath.Join(t.TempDir(), "gateway.toml")

	out, err := runRoot(t, "--config", path, "client", "connect", "--control-port", ctrl)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if !strings.Contains(out, "connected") || !strings.Contains(out, "KATCLI0000001") {
		t.Fatalf("connect output:\n%s", out)
	}

	out, err = runRoot(t, "--config", path, "client", "ping", "--control-port", ctrl)
	if err != nil {
		t.Fatalf("client ping: %v", err)
	}
	if !strings.Contains(out, "pong") {
		t.Fatalf("ping output:\n%s", out)
	}

	_, ports, ok := gw.SessionView()
	if !ok || len(ports) != 2 {
		t.Fatalf("session ports %v", ports)
	}
	out, err = runRoot(t, "--config", path, "client", "disconnect", "--control-port", ctrl, "--port", strconv.Itoa(int(ports[0])))
	if err != nil {
		t.Fatalf("client disconnect: %v\n%s", err, out)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, p, _ := gw.SessionView(); len(p) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("disconnect did not remove the port")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExchangeTimeout(t *testing.T) {
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sink.Close()

	_, err = Exchange(t.Context(), "127.0.0.1", sink.LocalAddr().(*net.UDPAddr).Port, 0, 50*time.Millisecond,
		nexuswire.EncodePing, nexuswire.CmdPong)
	if err == nil || !strings.Contains(err.Error(), "no reply") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
