package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/jgoldverg/nexusgw/pkg/metrics"
	"github.com/jgoldverg/nexusgw/pkg/nexus"
	"github.com/jgoldverg/nexusgw/pkg/notify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const statsInterval = 10 * time.Second

// modeFlag validates --device while flags are parsed.
type modeFlag device.Mode

var _ pflag.Value = (*modeFlag)(nil)

func (m *modeFlag) String() string { return string(*m) }

func (m *modeFlag) Set(s string) error {
	mode, err := device.ParseMode(s)
	if err != nil {
		return err
	}
	*m = modeFlag(mode)
	return nil
}

func (m *modeFlag) Type() string { return "mode" }

type ServeOpts struct {
	mode   modeFlag
	listen string
}

func ServeCommand() *cobra.Command {
	opts := ServeOpts{mode: modeFlag(device.ModeSim)}

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run", "start"},
		Short:   "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := GetGatewayConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("gateway config unavailable")
			}
			if cmd.Flags().Changed("device") {
				cfg.DeviceMode = string(opts.mode)
			}
			if cmd.Flags().Changed("listen") {
				if net.ParseIP(opts.listen) == nil {
					return fmt.Errorf("--listen %q is not an IP address", opts.listen)
				}
				cfg.ListenAddress = opts.listen
			}
			return runGateway(ctx, cfg)
		},
	}

	cmd.Flags().Var(&opts.mode, "device", "Device backend: sim or none")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Interface address for both UDP sockets (overrides listen_address)")
	return cmd
}

func runGateway(ctx context.Context, cfg *internal.GatewayConfig) error {
	dev, err := buildDevice(cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewGatewayCollector("")
	sinks := notify.Multi{notify.Console{}}
	if cfg.MQTTBroker != "" {
		sink, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:    cfg.MQTTBroker,
			ClientID:  "nexusgw-" + cfg.GatewayID,
			Topic:     cfg.MQTTTopic,
			GatewayID: cfg.GatewayID,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	gw, err := nexus.New(GatewayOptions(cfg), dev, nexus.WithNotifier(sinks), nexus.WithMetrics(collector))
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}
	internal.Info("gateway running", internal.Fields{
		internal.FieldGateway:            cfg.GatewayID,
		internal.FieldKey("device_mode"): cfg.DeviceMode,
	})

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				internal.Error("metrics server failed", internal.Fields{
					internal.FieldAddr:  cfg.MetricsAddress,
					internal.FieldError: err.Error(),
				})
			}
		}()
		internal.Info("metrics endpoint listening", internal.Fields{internal.FieldAddr: cfg.MetricsAddress})
	}

	logStats(ctx, gw)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return gw.Stop(shutdownCtx)
}

// logStats blocks until ctx is done, logging the packet counters whenever
// they moved since the previous report.
func logStats(ctx context.Context, gw *nexus.Gateway) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	var last nexus.PacketCounters
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		c := gw.Counters()
		if c == last {
			continue
		}
		last = c
		addr, ports, _ := gw.SessionView()
		internal.Info("gateway stats", internal.Fields{
			internal.FieldKey("good"):           c.Good,
			internal.FieldKey("bad"):            c.Bad,
			internal.FieldKey("status_updates"): c.StatusUpdatesSent,
			internal.FieldKey("dropped"):        c.Dropped,
			internal.FieldAddr:                  addr,
			internal.FieldKey("ports"):          len(ports),
		})
	}
}

func buildDevice(cfg *internal.GatewayConfig) (device.Device, error) {
	mode, err := device.ParseMode(cfg.DeviceMode)
	if err != nil {
		return nil, err
	}
	sim := device.SimConfig{Serial: cfg.SimSerial, UpdateHz: cfg.SimUpdateHz}
	if mode == device.ModeSim {
		if sim.Variant, err = device.ParseVariant(cfg.SimVariant); err != nil {
			return nil, err
		}
	}
	return device.New(mode, sim)
}

// GatewayOptions maps the file configuration onto the gateway's.
func GatewayOptions(cfg *internal.GatewayConfig) nexus.Config {
	out := nexus.DefaultConfig()
	out.ListenAddress = cfg.ListenAddress
	out.AdvertiseAddress = cfg.AdvertiseAddress
	out.BroadcastAddress = cfg.BroadcastAddress
	out.DiscoveryPort = cfg.DiscoveryPort
	out.ControlPort = cfg.ControlPort
	out.BroadcastInterval = time.Duration(cfg.BroadcastIntervalMs) * time.Millisecond
	out.PollInterval = time.Duration(cfg.PollIntervalUs) * time.Microsecond
	out.PingTimeout = time.Duration(cfg.PingTimeoutMs) * time.Millisecond
	out.ReadBufferSize = cfg.UDPReadBufferSize
	return out
}
