// Package device defines what the gateway needs from the treadmill SDK and
// ships a simulated treadmill for running without hardware.
package device

import (
	"errors"
	"fmt"
)

const SensorCount = 3

var (
	ErrNoDevice      = errors.New("no device connected")
	ErrUnknownSerial = errors.New("serial does not match attached device")
	ErrUnsupported   = errors.New("operation not supported by device variant")
)

// StatusSnapshot is one reading of the device's shared status block.
type StatusSnapshot struct {
	// Timestamp is the device-side time of the last sensor update, in seconds.
	// It only moves when new data arrived.
	Timestamp       float64
	SensorConnected [SensorCount]bool
	SensorBattery   [SensorCount]float32
	SensorPackets   [SensorCount]int32
	VID             uint16
	PID             uint16
	// Payload is the raw status block forwarded to clients unchanged.
	Payload []byte
}

type StatusProvider interface {
	Connected(v Variant) bool
	// Serial returns the serial of the primary device, or "" when none.
	Serial() string
	// Attach (re)opens the status block for serial.
	Attach(serial string) error
	ReadStatus(serial string) (StatusSnapshot, error)
}

// ConfigStore receives the records of a SysConfig command, keyed by serial.
type ConfigStore interface {
	WriteDriverConfig(serial string, rec []byte) error
	WriteInputConfig(serial string, rec []byte) error
	WriteCalibrationConfig(serial string, rec []byte) error
	WriteInputCalibration(serial string, rec []byte) error
}

type Actuator interface {
	SetHapticIntensity(v float32) error
	SetLedIntensity(v float32) error
}

// Device bundles the collaborators a gateway is built with.
type Device interface {
	StatusProvider
	ConfigStore
	Actuator
}

// Mode selects the Device implementation used by the gateway.
type Mode string

const (
	ModeSim  Mode = "sim"
	ModeNone Mode = "none"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSim, ModeNone:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown device mode %q (want sim or none)", s)
}

// New builds the Device for mode.
func New(mode Mode, sim SimConfig) (Device, error) {
	switch mode {
	case ModeSim:
		return NewSimulator(sim)
	case ModeNone:
		return None{}, nil
	}
	return nil, fmt.Errorf("unknown device mode %q", mode)
}

// None is a Device with nothing plugged in.
type None struct{}

func (None) Connected(Variant) bool { return false }
func (None) Serial() string         { return "" }
func (None) Attach(string) error    { return ErrNoDevice }

func (None) ReadStatus(string) (StatusSnapshot, error) { return StatusSnapshot{}, ErrNoDevice }

func (None) WriteDriverConfig(string, []byte) error      { return ErrNoDevice }
func (None) WriteInputConfig(string, []byte) error       { return ErrNoDevice }
func (None) WriteCalibrationConfig(string, []byte) error { return ErrNoDevice }
func (None) WriteInputCalibration(string, []byte) error  { return ErrNoDevice }

func (None) SetHapticIntensity(float32) error { return ErrNoDevice }
func (None) SetLedIntensity(float32) error    { return ErrNoDevice }
