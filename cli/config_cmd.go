package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jgoldverg/nexusgw/cli/output"
	"github.com/jgoldverg/nexusgw/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update nexusgw configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(configShowCommand(), configSetCommand())
	return cmd
}

func configShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective gateway configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetGatewayConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("gateway config unavailable")
			}
			switch format {
			case "table":
				rows := append([][2]string{{"config_path", getConfigPath(cmd)}}, configRows(cfg)...)
				return output.PrintKeyValueTable(rows)
			case "yaml":
				return output.NewPrinter().WithWriter(cmd.OutOrStdout()).YAML(configMap(cfg))
			}
			return fmt.Errorf("--output must be table or yaml")
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table or yaml")
	return cmd
}

type configSetOpts struct {
	listen            string
	advertise         string
	broadcast         string
	discoveryPort     int
	controlPort       int
	broadcastInterval int
	pingTimeout       int
	logLevel          string
	metricsAddress    string
	deviceMode        modeFlag
	simSerial         string
	simVariant        string
	mqttBroker        string
	mqttTopic         string
}

func configSetCommand() *cobra.Command {
	var opts configSetOpts
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the gateway configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetGatewayConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("gateway config unavailable")
			}
			changed, err := applyConfigFlags(cfg, cmd.Flags(), &opts)
			if err != nil {
				return err
			}
			if changed == 0 {
				return fmt.Errorf("nothing to update: pass at least one setting flag")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			path, err := cfg.Save(getConfigPath(cmd))
			if err != nil {
				return fmt.Errorf("saving gateway config: %w", err)
			}
			internal.Info("gateway configuration updated", internal.Fields{
				internal.ConfigPath:          path,
				internal.FieldKey("changed"): changed,
			})
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen-address", "", "Interface for both UDP sockets")
	f.StringVar(&opts.advertise, "advertise-address", "", "IPv4 placed in discovery packets (empty = detect)")
	f.StringVar(&opts.broadcast, "broadcast-address", "", "Discovery destination address")
	f.IntVar(&opts.discoveryPort, "discovery-port", 0, "Discovery UDP port")
	f.IntVar(&opts.controlPort, "control-port", 0, "Control UDP port")
	f.IntVar(&opts.broadcastInterval, "broadcast-interval-ms", 0, "Discovery interval in milliseconds")
	f.IntVar(&opts.pingTimeout, "ping-timeout-ms", 0, "Client port eviction age in milliseconds")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&opts.metricsAddress, "metrics-address", "", "host:port for /metrics (empty disables)")
	f.Var(&opts.deviceMode, "device-mode", "Device backend: sim or none")
	f.StringVar(&opts.simSerial, "sim-serial", "", "Simulated treadmill serial")
	f.StringVar(&opts.simVariant, "sim-variant", "", "Simulated treadmill variant")
	f.StringVar(&opts.mqttBroker, "mqtt-broker", "", "MQTT broker URL (empty disables)")
	f.StringVar(&opts.mqttTopic, "mqtt-topic", "", "MQTT topic prefix for events")
	return cmd
}

// applyConfigFlags copies every explicitly set flag onto cfg and returns how
// many were applied.
func applyConfigFlags(cfg *internal.GatewayConfig, fs *pflag.FlagSet, o *configSetOpts) (int, error) {
	n := 0
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
			n++
		}
	}
	set("listen-address", func() { cfg.ListenAddress = strings.TrimSpace(o.listen) })
	set("advertise-address", func() { cfg.AdvertiseAddress = strings.TrimSpace(o.advertise) })
	set("broadcast-address", func() { cfg.BroadcastAddress = strings.TrimSpace(o.broadcast) })
	set("discovery-port", func() { cfg.DiscoveryPort = o.discoveryPort })
	set("control-port", func() { cfg.ControlPort = o.controlPort })
	set("broadcast-interval-ms", func() { cfg.BroadcastIntervalMs = o.broadcastInterval })
	set("ping-timeout-ms", func() { cfg.PingTimeoutMs = o.pingTimeout })
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("metrics-address", func() { cfg.MetricsAddress = o.metricsAddress })
	set("device-mode", func() { cfg.DeviceMode = string(o.deviceMode) })
	set("sim-serial", func() { cfg.SimSerial = o.simSerial })
	set("sim-variant", func() { cfg.SimVariant = o.simVariant })
	set("mqtt-broker", func() { cfg.MQTTBroker = o.mqttBroker })
	set("mqtt-topic", func() { cfg.MQTTTopic = o.mqttTopic })

	if fs.Changed("log-level") {
		if _, err := internal.ParseLevel(cfg.LogLevel); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func configRows(cfg *internal.GatewayConfig) [][2]string {
	itoa := strconv.Itoa
	return [][2]string{
		{"gateway_id", cfg.GatewayID},
		{"listen_address", cfg.ListenAddress},
		{"advertise_address", cfg.AdvertiseAddress},
		{"broadcast_address", cfg.BroadcastAddress},
		{"discovery_port", itoa(cfg.DiscoveryPort)},
		{"control_port", itoa(cfg.ControlPort)},
		{"broadcast_interval_ms", itoa(cfg.BroadcastIntervalMs)},
		{"poll_interval_us", itoa(cfg.PollIntervalUs)},
		{"ping_timeout_ms", itoa(cfg.PingTimeoutMs)},
		{"udp_read_buffer_size", itoa(cfg.UDPReadBufferSize)},
		{"log_level", cfg.LogLevel},
		{"metrics_address", cfg.MetricsAddress},
		{"device_mode", cfg.DeviceMode},
		{"sim_serial", cfg.SimSerial},
		{"sim_variant", cfg.SimVariant},
		{"sim_update_hz", itoa(cfg.SimUpdateHz)},
		{"mqtt_broker", cfg.MQTTBroker},
		{"mqtt_topic", cfg.MQTTTopic},
	}
}

func configMap(cfg *internal.GatewayConfig) map[string]string {
	out := make(map[string]string)
	for _, r := range configRows(cfg) {
		out[r[0]] = r[1]
	}
	return out
}
