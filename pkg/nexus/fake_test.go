package nexus

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jgoldverg/nexusgw/pkg/device"
	"github.com/jgoldverg/nexusgw/pkg/metrics"
	"github.com/jgoldverg/nexusgw/pkg/notify"
)

// fakeDevice is a treadmill whose status timestamp only moves when a test
// calls tick.
type fakeDevice struct {
	mu sync.Mutex

	variant device.Variant
	serial  string
	present bool
	ts      float64
	packets [device.SensorCount]int32
	payload []byte

	attaches        []string
	writes          []string
	failCalibration bool
	failDriver      bool
	haptic, led     float32
}

func newFakeDevice(serial string, v device.Variant) *fakeDevice {
	return &fakeDevice{
		variant: v,
		serial:  serial,
		present: true,
		ts:      100,
		packets: [device.SensorCount]int32{120, 130, 140},
		payload: []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func (f *fakeDevice) tick() {
	f.mu.Lock()
	f.ts += 0.002
	f.mu.Unlock()
}

func (f *fakeDevice) setPresent(p bool) {
	f.mu.Lock()
	f.present = p
	f.mu.Unlock()
}

func (f *fakeDevice) setSerial(s string) {
	f.mu.Lock()
	f.serial = s
	f.mu.Unlock()
}

func (f *fakeDevice) Connected(v device.Variant) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present && v == f.variant
}

func (f *fakeDevice) Serial() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present {
		return ""
	}
	return f.serial
}

func (f *fakeDevice) Attach(serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches = append(f.attaches, serial)
	return nil
}

func (f *fakeDevice) ReadStatus(serial string) (device.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present {
		return device.StatusSnapshot{}, device.ErrNoDevice
	}
	if serial != f.serial {
		return device.StatusSnapshot{}, device.ErrUnknownSerial
	}
	snap := device.StatusSnapshot{
		Timestamp:     f.ts,
		SensorPackets: f.packets,
		SensorBattery: [device.SensorCount]float32{0.9, 0.8, 0.7},
		VID:           0xC4F4,
		PID:           0x2F37,
		Payload:       append([]byte(nil), f.payload...),
	}
	for i, n := range f.packets {
		snap.SensorConnected[i] = n > 0
	}
	return snap, nil
}

func (f *fakeDevice) record(kind string) {
	f.mu.Lock()
	f.writes = append(f.writes, kind)
	f.mu.Unlock()
}

func (f *fakeDevice) WriteDriverConfig(string, []byte) error {
	if f.failDriver {
		return errors.New("driver store offline")
	}
	f.record("driver")
	return nil
}

func (f *fakeDevice) WriteInputConfig(string, []byte) error {
	f.record("input")
	return nil
}

func (f *fakeDevice) WriteCalibrationConfig(string, []byte) error {
	if f.failCalibration {
		return device.ErrUnsupported
	}
	f.record("calibration")
	return nil
}

func (f *fakeDevice) WriteInputCalibration(string, []byte) error {
	f.record("input_calibration")
	return nil
}

func (f *fakeDevice) SetHapticIntensity(v float32) error {
	f.mu.Lock()
	f.haptic = v
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) SetLedIntensity(v float32) error {
	f.mu.Lock()
	f.led = v
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) writesSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Notify(ev notify.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []notify.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notify.Event(nil), l.events...)
}

// newTestGateway builds an unstarted gateway and runs one broadcast tick so
// the fake device is detected and attached.
func newTestGateway(t *testing.T, dev *fakeDevice) (*Gateway, *fakeClock, *eventLog) {
	t.Helper()
	clk := newFakeClock()
	events := &eventLog{}
	g, err := New(DefaultConfig(), dev,
		WithClock(clk.Now),
		WithNotifier(events),
		WithMetrics(metrics.NewGatewayCollector("test")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.advertise = "10.0.0.2"
	if _, present := g.broadcastTick(); !present && dev.present {
		t.Fatal("device not detected")
	}
	return g, clk, events
}

func clientAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip).To4(), Port: port}
}
