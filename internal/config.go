package internal

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/spf13/viper"
)

const (
	configDirName  = ".nexusgw"
	configName     = "gateway"
	configType     = "toml"
	configEnvPrefx = "NEXUSGW"
)

type GatewayConfig struct {
	GatewayID           string `mapstructure:"gateway_id"`
	ListenAddress       string `mapstructure:"listen_address"`
	AdvertiseAddress    string `mapstructure:"advertise_address"`
	BroadcastAddress    string `mapstructure:"broadcast_address"`
	DiscoveryPort       int    `mapstructure:"discovery_port"`
	ControlPort         int    `mapstructure:"control_port"`
	BroadcastIntervalMs int    `mapstructure:"broadcast_interval_ms"`
	PollIntervalUs      int    `mapstructure:"poll_interval_us"`
	PingTimeoutMs       int    `mapstructure:"ping_timeout_ms"`
	UDPReadBufferSize   int    `mapstructure:"udp_read_buffer_size"`
	LogLevel            string `mapstructure:"log_level"`
	MetricsAddress      string `mapstructure:"metrics_address"`
	DeviceMode          string `mapstructure:"device_mode"`
	SimSerial           string `mapstructure:"sim_serial"`
	SimVariant          string `mapstructure:"sim_variant"`
	SimUpdateHz         int    `mapstructure:"sim_update_hz"`
	MQTTBroker          string `mapstructure:"mqtt_broker"`
	MQTTTopic           string `mapstructure:"mqtt_topic"`
}

// DefaultConfigPath is where LoadGatewayConfig looks when no path is given.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName, configName+"."+configType), nil
}

func setGatewayDefaults(v *viper.Viper) {
	v.SetDefault("gateway_id", uuid.New().String())
	v.SetDefault("listen_address", "0.0.0.0")
	v.SetDefault("advertise_address", "")
	v.SetDefault("broadcast_address", "255.255.255.255")
	v.SetDefault("discovery_port", 1181)
	v.SetDefault("control_port", 3500)
	v.SetDefault("broadcast_interval_ms", 1000)
	v.SetDefault("poll_interval_us", 1000)
	v.SetDefault("ping_timeout_ms", 5000)
	v.SetDefault("udp_read_buffer_size", 64*1024)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_address", "")
	v.SetDefault("device_mode", "sim")
	v.SetDefault("sim_serial", "KATSIM0000001")
	v.SetDefault("sim_variant", "walk_c2")
	v.SetDefault("sim_update_hz", 500)
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic", "nexusgw/events")
}

// LoadGatewayConfig reads configPath (or ~/.nexusgw/gateway.toml), applies
// NEXUSGW_* environment overrides and writes the defaults out on first run.
func LoadGatewayConfig(configPath string) (*GatewayConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("failed to load users home directory: " + err.Error())
	}
	configPath = expandPath(configPath)

	v, err := initViper(configPath, filepath.Join(home, configDirName), configName, configType, configEnvPrefx)
	if err != nil {
		return nil, err
	}
	setGatewayDefaults(v)

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create-on-first-run only: no file was read.
	if v.ConfigFileUsed() == "" || !fileExists(v.ConfigFileUsed()) {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, configDirName, configName+"."+configType)
		}
		if !fileExists(writePath) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default gateway config: %w", err)
			}
			Info("gateway config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		Error("config file unreadable", Fields{
			ConfigPath: configPath,
			FieldError: err.Error(),
		})
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func (cfg *GatewayConfig) Validate() error {
	var errs []error
	checkPort := func(name string, p int) {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range 1..65535", name, p))
		}
	}
	checkPort("discovery_port", cfg.DiscoveryPort)
	checkPort("control_port", cfg.ControlPort)
	if cfg.DiscoveryPort == cfg.ControlPort {
		errs = append(errs, fmt.Errorf("discovery_port and control_port must differ"))
	}
	if cfg.BroadcastIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("broadcast_interval_ms must be > 0"))
	}
	if cfg.PollIntervalUs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_us must be > 0"))
	}
	if cfg.PingTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("ping_timeout_ms must be > 0"))
	}
	if cfg.UDPReadBufferSize < 512 {
		errs = append(errs, fmt.Errorf("udp_read_buffer_size must be at least 512"))
	}
	if net.ParseIP(cfg.ListenAddress) == nil {
		errs = append(errs, fmt.Errorf("listen_address %q is not an IP", cfg.ListenAddress))
	}
	if ip := net.ParseIP(cfg.BroadcastAddress); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Errorf("broadcast_address %q is not an IPv4 address", cfg.BroadcastAddress))
	}
	if cfg.AdvertiseAddress != "" {
		if ip := net.ParseIP(cfg.AdvertiseAddress); ip == nil || ip.To4() == nil {
			errs = append(errs, fmt.Errorf("advertise_address %q is not an IPv4 address", cfg.AdvertiseAddress))
		}
	}
	if _, err := device.ParseMode(cfg.DeviceMode); err != nil {
		errs = append(errs, err)
	}
	if cfg.DeviceMode == string(device.ModeSim) {
		if _, err := device.ParseVariant(cfg.SimVariant); err != nil {
			errs = append(errs, err)
		}
		if cfg.SimSerial == "" || len(cfg.SimSerial) > 13 {
			errs = append(errs, fmt.Errorf("sim_serial must be 1..13 characters"))
		}
		if cfg.SimUpdateHz <= 0 {
			errs = append(errs, fmt.Errorf("sim_update_hz must be > 0"))
		}
	}
	return errors.Join(errs...)
}

func (cfg *GatewayConfig) Save(path string) (string, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.Set("gateway_id", cfg.GatewayID)
	v.Set("listen_address", cfg.ListenAddress)
	v.Set("advertise_address", cfg.AdvertiseAddress)
	v.Set("broadcast_address", cfg.BroadcastAddress)
	v.Set("discovery_port", cfg.DiscoveryPort)
	v.Set("control_port", cfg.ControlPort)
	v.Set("broadcast_interval_ms", cfg.BroadcastIntervalMs)
	v.Set("poll_interval_us", cfg.PollIntervalUs)
	v.Set("ping_timeout_ms", cfg.PingTimeoutMs)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("log_level", cfg.LogLevel)
	v.Set("metrics_address", cfg.MetricsAddress)
	v.Set("device_mode", cfg.DeviceMode)
	v.Set("sim_serial", cfg.SimSerial)
	v.Set("sim_variant", cfg.SimVariant)
	v.Set("sim_update_hz", cfg.SimUpdateHz)
	v.Set("mqtt_broker", cfg.MQTTBroker)
	v.Set("mqtt_topic", cfg.MQTTTopic)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write gateway config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
