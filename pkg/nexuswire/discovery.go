package nexuswire

import (
	"encoding/binary"
	"fmt"
)

const (
	IPv4FieldLen    = 16
	SerialLen       = 13
	SensorCount     = 3
	DiscoveryBufLen = 512

	DiscoveryHeaderLen = IPv4FieldLen + 4 // ip + deviceCount
	DeviceStatusLen    = 116
)

// DeviceStatus field offsets inside its 116-byte record.
const (
	offLastUpdate  = 0
	offPID         = 8
	offVID         = 10
	offSerial      = 12
	offConnected   = offSerial + SerialLen        // 25
	offBattery     = offConnected + SensorCount   // 28
	offReserved    = offBattery + 4*SensorCount   // 40
	offPackets     = offReserved + 3              // 43
	offClientIPv4  = offPackets + 4*SensorCount   // 55
	offReserved2   = offClientIPv4 + IPv4FieldLen // 71
	offControlPort = offReserved2 + 8             // 79
	offPortCount   = offControlPort + 4           // 83
	offClientPorts = offPortCount + 1             // 84, ports run to 116
)

// DeviceStatus describes one treadmill inside a discovery packet.
type DeviceStatus struct {
	LastUpdate      float64 // seconds since the first observed update
	PID             uint16
	VID             uint16
	Serial          string
	SensorConnected [SensorCount]bool
	SensorBattery   [SensorCount]float32
	Reserved        [3]byte
	SensorPackets   [SensorCount]int32
	ClientIPv4      string
	Reserved2       [8]byte
	ControlPort     int32
	ClientPortCount uint8
	ClientPorts     [MaxClientPorts]int32
}

func (d *DeviceStatus) Encode(dst []byte) (int, error) {
	if len(dst) < DeviceStatusLen {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, DeviceStatusLen, len(dst))
	}
	putF64(dst[offLastUpdate:], d.LastUpdate)
	binary.LittleEndian.PutUint16(dst[offPID:], d.PID)
	binary.LittleEndian.PutUint16(dst[offVID:], d.VID)
	PutFixedString(dst[offSerial:offConnected], d.Serial)
	for i := 0; i < SensorCount; i++ {
		putBool(dst[offConnected+i:], d.SensorConnected[i])
		putF32(dst[offBattery+4*i:], d.SensorBattery[i])
		putI32(dst[offPackets+4*i:], d.SensorPackets[i])
	}
	copy(dst[offReserved:offPackets], d.Reserved[:])
	PutFixedString(dst[offClientIPv4:offReserved2], d.ClientIPv4)
	copy(dst[offReserved2:offControlPort], d.Reserved2[:])
	putI32(dst[offControlPort:], d.ControlPort)
	dst[offPortCount] = d.ClientPortCount
	for i := 0; i < MaxClientPorts; i++ {
		putI32(dst[offClientPorts+4*i:], d.ClientPorts[i])
	}
	return DeviceStatusLen, nil
}

func (d *DeviceStatus) Decode(src []byte) (int, error) {
	if len(src) < DeviceStatusLen {
		return 0, fmt.Errorf("%w: device status needs %d, got %d", ErrTruncated, DeviceStatusLen, len(src))
	}
	d.LastUpdate = getF64(src[offLastUpdate:])
	d.PID = binary.LittleEndian.Uint16(src[offPID:])
	d.VID = binary.LittleEndian.Uint16(src[offVID:])
	d.Serial = FixedString(src[offSerial:offConnected])
	for i := 0; i < SensorCount; i++ {
		d.SensorConnected[i] = src[offConnected+i] != 0
		d.SensorBattery[i] = getF32(src[offBattery+4*i:])
		d.SensorPackets[i] = getI32(src[offPackets+4*i:])
	}
	copy(d.Reserved[:], src[offReserved:offPackets])
	d.ClientIPv4 = FixedString(src[offClientIPv4:offReserved2])
	copy(d.Reserved2[:], src[offReserved2:offControlPort])
	d.ControlPort = getI32(src[offControlPort:])
	d.ClientPortCount = src[offPortCount]
	for i := 0; i < MaxClientPorts; i++ {
		d.ClientPorts[i] = getI32(src[offClientPorts+4*i:])
	}
	return DeviceStatusLen, nil
}

// Ports returns the registered client ports, bounded by ClientPortCount.
func (d *DeviceStatus) Ports() []int32 {
	n := int(d.ClientPortCount)
	if n > MaxClientPorts {
		n = MaxClientPorts
	}
	return append([]int32(nil), d.ClientPorts[:n]...)
}

// DiscoveryPacket is the presence announcement broadcast once per second.
type DiscoveryPacket struct {
	SourceIPv4 string
	Devices    []DeviceStatus
}

// EncodedLen is the on-wire size including the magic prefix.
func (p *DiscoveryPacket) EncodedLen() int {
	return MagicLen + DiscoveryHeaderLen + len(p.Devices)*DeviceStatusLen
}

func (p *DiscoveryPacket) Encode(dst []byte) (int, error) {
	n := p.EncodedLen()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, n, len(dst))
	}
	dst[0] = Magic0
	dst[1] = Magic1
	off := MagicLen
	PutFixedString(dst[off:off+IPv4FieldLen], p.SourceIPv4)
	off += IPv4FieldLen
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(p.Devices)))
	off += 4
	for i := range p.Devices {
		w, err := p.Devices[i].Encode(dst[off:])
		if err != nil {
			return 0, err
		}
		off += w
	}
	return off, nil
}

func (p *DiscoveryPacket) Decode(src []byte) (int, error) {
	if err := CheckMagic(src); err != nil {
		return 0, err
	}
	if err := need(src, MagicLen+DiscoveryHeaderLen); err != nil {
		return 0, err
	}
	off := MagicLen
	p.SourceIPv4 = FixedString(src[off : off+IPv4FieldLen])
	off += IPv4FieldLen
	count := binary.LittleEndian.Uint32(src[off:])
	off += 4

	if uint64(len(src)-off) < uint64(count)*DeviceStatusLen {
		return 0, fmt.Errorf("%w: %d devices declared, %d bytes left", ErrTruncated, count, len(src)-off)
	}
	p.Devices = make([]DeviceStatus, count)
	for i := range p.Devices {
		r, err := p.Devices[i].Decode(src[off:])
		if err != nil {
			return 0, err
		}
		off += r
	}
	return off, nil
}

// EncodeDiscovery renders the packet into a fresh fixed-size broadcast buffer
// and returns it trimmed to the used length.
func EncodeDiscovery(p *DiscoveryPacket) ([]byte, error) {
	buf := make([]byte, DiscoveryBufLen)
	n, err := p.Encode(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
