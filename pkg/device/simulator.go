package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	simVID = 0xC4F4
	simPID = 0x2F37

	// timestamp f64 + per sensor {connected u8, battery f32, packets i32, speed f32}
	SimPayloadLen = 8 + SensorCount*(1+4+4+4)
)

// ConfigKind names one SysConfig record.
type ConfigKind int

const (
	DriverConfig ConfigKind = iota
	InputConfig
	CalibrationConfig
	InputCalibration
)

func (k ConfigKind) String() string {
	switch k {
	case DriverConfig:
		return "driver"
	case InputConfig:
		return "input"
	case CalibrationConfig:
		return "calibration"
	case InputCalibration:
		return "input_calibration"
	}
	return fmt.Sprintf("config(%d)", int(k))
}

type SimConfig struct {
	Serial   string
	Variant  Variant
	UpdateHz int
}

// Simulator is an in-process treadmill. Sensor data advances at UpdateHz;
// configuration writes and actuator values are recorded for inspection.
type Simulator struct {
	mu sync.Mutex

	serial   string
	variant  Variant
	period   time.Duration
	start    time.Time
	now      func() time.Time
	present  bool
	attached string
	frozen   bool
	frozenAt float64

	configs map[ConfigKind][]byte
	haptic  float32
	led     float32
}

func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.Serial == "" {
		return nil, fmt.Errorf("simulator: serial required")
	}
	if len(cfg.Serial) > 13 {
		return nil, fmt.Errorf("simulator: serial %q longer than 13 characters", cfg.Serial)
	}
	if cfg.Variant == VariantNone {
		cfg.Variant = VariantWalkC2
	}
	if cfg.UpdateHz <= 0 {
		cfg.UpdateHz = 500
	}
	return &Simulator{
		serial:  cfg.Serial,
		variant: cfg.Variant,
		period:  time.Second / time.Duration(cfg.UpdateHz),
		start:   time.Now(),
		now:     time.Now,
		present: true,
		configs: make(map[ConfigKind][]byte),
	}, nil
}

// SetPresent plugs or unplugs the simulated device.
func (s *Simulator) SetPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = present
	if !present {
		s.attached = ""
	}
}

// Freeze stops the sensor clock so ReadStatus keeps returning the same
// timestamp. Unfreeze resumes it.
func (s *Simulator) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozenAt = s.timestampLocked()
	s.frozen = true
}

func (s *Simulator) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
}

func (s *Simulator) Connected(v Variant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present && v == s.variant
}

func (s *Simulator) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ""
	}
	return s.serial
}

func (s *Simulator) Attach(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ErrNoDevice
	}
	if serial != s.serial {
		return fmt.Errorf("%w: %q", ErrUnknownSerial, serial)
	}
	s.attached = serial
	return nil
}

// Attached returns the serial last passed to a successful Attach.
func (s *Simulator) Attached() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Simulator) timestampLocked() float64 {
	if s.frozen {
		return s.frozenAt
	}
	ticks := s.now().Sub(s.start) / s.period
	return float64(s.start.UnixNano())/1e9 + (ticks * s.period).Seconds()
}

func (s *Simulator) ReadStatus(serial string) (StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return StatusSnapshot{}, ErrNoDevice
	}
	if serial != s.serial {
		return StatusSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownSerial, serial)
	}

	ts := s.timestampLocked()
	elapsed := ts - float64(s.start.UnixNano())/1e9
	snap := StatusSnapshot{
		Timestamp: ts,
		VID:       simVID,
		PID:       simPID,
		Payload:   make([]byte, SimPayloadLen),
	}
	binary.LittleEndian.PutUint64(snap.Payload, math.Float64bits(ts))
	off := 8
	for i := 0; i < SensorCount; i++ {
		snap.SensorConnected[i] = true
		snap.SensorBattery[i] = float32(1 - math.Mod(elapsed/3600, 1))
		snap.SensorPackets[i] = int32(elapsed*float64(time.Second/s.period)) + 1
		speed := float32(math.Sin(elapsed + float64(i)))

		snap.Payload[off] = 1
		binary.LittleEndian.PutUint32(snap.Payload[off+1:], math.Float32bits(snap.SensorBattery[i]))
		binary.LittleEndian.PutUint32(snap.Payload[off+5:], uint32(snap.SensorPackets[i]))
		binary.LittleEndian.PutUint32(snap.Payload[off+9:], math.Float32bits(speed))
		off += 13
	}
	return snap, nil
}

func (s *Simulator) writeConfig(kind ConfigKind, serial string, rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ErrNoDevice
	}
	if serial != s.serial {
		return fmt.Errorf("%w: %q", ErrUnknownSerial, serial)
	}
	if kind == CalibrationConfig && !s.variant.RequiresCalibration() {
		return fmt.Errorf("%w: %s has no calibration config", ErrUnsupported, s.variant)
	}
	s.configs[kind] = append([]byte(nil), rec...)
	return nil
}

func (s *Simulator) WriteDriverConfig(serial string, rec []byte) error {
	return s.writeConfig(DriverConfig, serial, rec)
}

func (s *Simulator) WriteInputConfig(serial string, rec []byte) error {
	return s.writeConfig(InputConfig, serial, rec)
}

func (s *Simulator) WriteCalibrationConfig(serial string, rec []byte) error {
	return s.writeConfig(CalibrationConfig, serial, rec)
}

func (s *Simulator) WriteInputCalibration(serial string, rec []byte) error {
	return s.writeConfig(InputCalibration, serial, rec)
}

// Config returns the last record written for kind, or nil.
func (s *Simulator) Config(kind ConfigKind) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[kind]
}

func (s *Simulator) SetHapticIntensity(v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ErrNoDevice
	}
	s.haptic = v
	return nil
}

func (s *Simulator) SetLedIntensity(v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return ErrNoDevice
	}
	s.led = v
	return nil
}

// Actuators returns the current haptic and LED intensities.
func (s *Simulator) Actuators() (haptic, led float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haptic, s.led
}
