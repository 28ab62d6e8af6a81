package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadGatewayConfigWritesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "gw", "gateway.toml")

	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.DiscoveryPort != 1181 || cfg.ControlPort != 3500 {
		t.Fatalf("unexpected ports %d/%d", cfg.DiscoveryPort, cfg.ControlPort)
	}
	if cfg.PingTimeoutMs != 5000 || cfg.BroadcastIntervalMs != 1000 || cfg.PollIntervalUs != 1000 {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.GatewayID == "" {
		t.Fatal("gateway id not generated")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config perms %v", info.Mode().Perm())
	}

	again, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.GatewayID != cfg.GatewayID {
		t.Fatalf("gateway id changed across loads: %q -> %q", cfg.GatewayID, again.GatewayID)
	}
}

func TestLoadGatewayConfigEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NEXUSGW_CONTROL_PORT", "4500")
	t.Setenv("NEXUSGW_DEVICE_MODE", "none")
	path := filepath.Join(t.TempDir(), "gateway.toml")

	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.ControlPort != 4500 {
		t.Fatalf("env override ignored: %d", cfg.ControlPort)
	}
	if cfg.DeviceMode != "none" {
		t.Fatalf("device mode %q", cfg.DeviceMode)
	}
}

func TestLoadGatewayConfigReadsFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "gateway.toml")
	body := "control_port = 3600\nsim_serial = \"KAT9\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.ControlPort != 3600 || cfg.SimSerial != "KAT9" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.DiscoveryPort != 1181 {
		t.Fatalf("default lost: %d", cfg.DiscoveryPort)
	}
}

func validConfig() GatewayConfig {
	return GatewayConfig{
		ListenAddress:       "0.0.0.0",
		BroadcastAddress:    "255.255.255.255",
		DiscoveryPort:       1181,
		ControlPort:         3500,
		BroadcastIntervalMs: 1000,
		PollIntervalUs:      1000,
		PingTimeoutMs:       5000,
		UDPReadBufferSize:   65536,
		DeviceMode:          "sim",
		SimSerial:           "KATSIM0000001",
		SimVariant:          "walk_c2",
		SimUpdateHz:         500,
	}
}

func TestGatewayConfigValidate(t *testing.T) {
	good := validConfig()
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(c *GatewayConfig){
		"control_port":      func(c *GatewayConfig) { c.ControlPort = 70000 },
		"must differ":       func(c *GatewayConfig) { c.ControlPort = c.DiscoveryPort },
		"poll_interval_us":  func(c *GatewayConfig) { c.PollIntervalUs = 0 },
		"broadcast_address": func(c *GatewayConfig) { c.BroadcastAddress = "::1" },
		"device mode":       func(c *GatewayConfig) { c.DeviceMode = "usb" },
		"sim_serial":        func(c *GatewayConfig) { c.SimSerial = "THIS-IS-TOO-LONG" },
		"variant":           func(c *GatewayConfig) { c.SimVariant = "treadmill" },
	}
	for want, mutate := range cases {
		c := validConfig()
		mutate(&c)
		err := c.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", want)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: error %q does not mention it", want, err)
		}
	}
}

func TestGatewayConfigNoneSkipsSimChecks(t *testing.T) {
	c := validConfig()
	c.DeviceMode = "none"
	c.SimSerial = ""
	c.SimVariant = "bogus"
	if err := c.Validate(); err != nil {
		t.Fatalf("none mode should ignore sim settings: %v", err)
	}
}
