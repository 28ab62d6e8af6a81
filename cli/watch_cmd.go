package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgoldverg/nexusgw/cli/output"
	"github.com/jgoldverg/nexusgw/pkg/nexus"
	"github.com/jgoldverg/nexusgw/pkg/nexuswire"
	"github.com/jgoldverg/nexusgw/pkg/udplisten"
	"github.com/spf13/cobra"
)

type WatchOpts struct {
	format string
	count  int
	listen string
	port   int
}

type watchDevice struct {
	Serial          string    `yaml:"serial"`
	ControlPort     int32     `yaml:"control_port"`
	LastUpdate      float64   `yaml:"last_update"`
	VID             string    `yaml:"vid"`
	PID             string    `yaml:"pid"`
	SensorConnected []bool    `yaml:"sensor_connected"`
	SensorBattery   []float32 `yaml:"sensor_battery"`
	SensorPackets   []int32   `yaml:"sensor_packets"`
	Health          string    `yaml:"health"`
	ClientIPv4      string    `yaml:"client,omitempty"`
	ClientPorts     []int32   `yaml:"client_ports,omitempty"`
}

type watchRecord struct {
	From     string        `yaml:"from"`
	Received time.Time     `yaml:"received"`
	Source   string        `yaml:"source_ipv4,omitempty"`
	Devices  []watchDevice `yaml:"devices"`
	Error    string        `yaml:"error,omitempty"`
}

type datagram struct {
	src *net.UDPAddr
	buf []byte
}

// watchHandler forwards every discovery datagram to the print loop.
type watchHandler struct {
	ch chan datagram
}

func (h *watchHandler) OnStart(context.Context, *net.UDPConn) error { return nil }
func (h *watchHandler) OnStop(context.Context, *net.UDPConn) error  { return nil }

func (h *watchHandler) HandlePacket(ctx context.Context, _ *net.UDPConn, src *net.UDPAddr, buf []byte) {
	select {
	case h.ch <- datagram{src: src, buf: buf}:
	case <-ctx.Done():
	}
}

func WatchCommand() *cobra.Command {
	var opts WatchOpts

	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w", "discover"},
		Short:   "Print discovery announcements seen on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.format {
			case "text", "yaml", "table":
			default:
				return fmt.Errorf("--output must be text, yaml or table")
			}
			if opts.count < 0 {
				return fmt.Errorf("--count must be >= 0")
			}
			cfg := GetGatewayConfig(cmd)
			if cfg != nil && !cmd.Flags().Changed("port") {
				opts.port = cfg.DiscoveryPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, output.NewPrinter().WithWriter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&opts.format, "output", "o", "text", "Output format: text, yaml or table")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Stop after this many packets (0 = until interrupted)")
	cmd.Flags().StringVar(&opts.listen, "listen", "0.0.0.0", "Address to listen on")
	cmd.Flags().IntVar(&opts.port, "port", nexuswire.DiscoveryPort, "Discovery port")
	return cmd
}

func runWatch(ctx context.Context, opts WatchOpts, p *output.Printer) error {
	h := &watchHandler{ch: make(chan datagram, 64)}
	lm := udplisten.NewManager()
	lopts := udplisten.DefaultOptions()
	lopts.Broadcast = true
	lopts.ReuseAddr = true
	if _, err := lm.Listen(ctx, "watch", opts.listen, opts.port, h, lopts); err != nil {
		return err
	}
	defer lm.CloseAll(context.Background())

	seen := 0
	for opts.count == 0 || seen < opts.count {
		var d datagram
		select {
		case <-ctx.Done():
			return nil
		case d = <-h.ch:
		}
		seen++
		if err := printDiscovery(p, opts.format, d); err != nil {
			return err
		}
	}
	return nil
}

func printDiscovery(p *output.Printer, format string, d datagram) error {
	switch format {
	case "yaml":
		return p.YAML(toWatchRecord(d, time.Now()))
	case "table":
		var pkt nexuswire.DiscoveryPacket
		if _, err := pkt.Decode(d.buf); err != nil {
			p.Warn("ERR: Invalid packet", map[string]any{"from": d.src.String()})
			return nil
		}
		return output.PrintDeviceTable(&pkt)
	}
	p.Line(nexus.DescribeDiscovery(d.buf))
	return nil
}

func toWatchRecord(d datagram, at time.Time) watchRecord {
	rec := watchRecord{From: d.src.String(), Received: at, Devices: []watchDevice{}}
	var pkt nexuswire.DiscoveryPacket
	if _, err := pkt.Decode(d.buf); err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Source = pkt.SourceIPv4
	for i := range pkt.Devices {
		ds := &pkt.Devices[i]
		rec.Devices = append(rec.Devices, watchDevice{
			Serial:          ds.Serial,
			ControlPort:     ds.ControlPort,
			LastUpdate:      ds.LastUpdate,
			VID:             fmt.Sprintf("%04x", ds.VID),
			PID:             fmt.Sprintf("%04x", ds.PID),
			SensorConnected: ds.SensorConnected[:],
			SensorBattery:   ds.SensorBattery[:],
			SensorPackets:   ds.SensorPackets[:],
			Health:          nexus.SensorHealth(ds),
			ClientIPv4:      ds.ClientIPv4,
			ClientPorts:     ds.Ports(),
		})
	}
	return rec
}
