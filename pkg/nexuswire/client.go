package nexuswire

import (
	"encoding/binary"
	"fmt"
)

// Client protocol sizes. Minimums are checked before any field read.
const (
	PingMinLen       = 15
	PingReplyLen     = 259
	ConnectMinLen    = 8
	DisconnectMinLen = 7
	IntensityMinLen  = 11
	SysConfigMinLen  = 260

	ConnectResultLen = 260
	ResetLen         = 5

	StatusHeaderLen = 11

	pingPortOffset   = 11
	pingStatusOffset = 3
	connectPortOff   = 3
	connectForceOff  = 7
	resultFailedOff  = 3
	resultStatusOff  = 4
	resultPortOff    = 5
	resultMsgOff     = 9
	intensityOff     = 3
	statusCounterOff = 3
)

// SysConfig record layout.
const (
	DriverConfigOffset     = 3
	DriverConfigLen        = 67
	InputConfigOffset      = 70
	InputConfigLen         = 18
	CalibrationOffset      = 88
	CalibrationLen         = 21
	InputCalibrationOffset = 109
	InputCalibrationLen    = 8
	SysConfigSerialOffset  = 117
)

// Ping is a ping datagram widened to PingReplyLen so it can be answered in place.
type Ping struct {
	Buf  []byte
	Port int32
}

// DecodePing validates a ping and copies it into a reply-sized buffer.
func DecodePing(src []byte) (*Ping, error) {
	if err := CheckMagic(src); err != nil {
		return nil, err
	}
	if err := need(src, PingMinLen); err != nil {
		return nil, err
	}
	buf := make([]byte, max(len(src), PingReplyLen))
	copy(buf, src)
	return &Ping{Buf: buf, Port: getI32(buf[pingPortOffset:])}, nil
}

// Pong stamps the receipt time over the port field and flips the command.
func (p *Ping) Pong(ts float64) []byte {
	p.Buf[CmdOffset] = CmdPong
	putF64(p.Buf[pingPortOffset:], ts)
	return p.Buf
}

// Reset stamps the receipt time and turns the ping into a rejection.
func (p *Ping) Reset(ts float64, status byte) []byte {
	p.Buf[CmdOffset] = CmdReset
	p.Buf[pingStatusOffset] = status
	putF64(p.Buf[pingPortOffset:], ts)
	return p.Buf
}

// PingTimestamp reads the receipt time out of a Pong or Reset reply.
func PingTimestamp(src []byte) (float64, error) {
	if err := need(src, PingMinLen); err != nil {
		return 0, err
	}
	return getF64(src[pingPortOffset:]), nil
}

// EncodePing builds a minimal client ping asking for replies on port.
func EncodePing(port int32) []byte {
	buf := make([]byte, PingMinLen)
	putHeader(buf, CmdPing)
	putI32(buf[pingPortOffset:], port)
	return buf
}

type ConnectRequest struct {
	Port  int32
	Force bool
}

func (r *ConnectRequest) Encode(dst []byte) (int, error) {
	if len(dst) < ConnectMinLen {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, ConnectMinLen, len(dst))
	}
	putHeader(dst, CmdConnect)
	putI32(dst[connectPortOff:], r.Port)
	putBool(dst[connectForceOff:], r.Force)
	return ConnectMinLen, nil
}

func (r *ConnectRequest) Decode(src []byte) (int, error) {
	if err := need(src, ConnectMinLen); err != nil {
		return 0, err
	}
	r.Port = getI32(src[connectPortOff:])
	r.Force = src[connectForceOff] != 0
	return ConnectMinLen, nil
}

// ConnectResult is the fixed-size reply to a Connect.
type ConnectResult struct {
	Failed      bool
	Status      byte
	ControlPort int32
	Message     string
}

func (r *ConnectResult) Encode(dst []byte) (int, error) {
	if len(dst) < ConnectResultLen {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, ConnectResultLen, len(dst))
	}
	putHeader(dst, CmdConnectResult)
	putBool(dst[resultFailedOff:], r.Failed)
	dst[resultStatusOff] = r.Status
	putI32(dst[resultPortOff:], r.ControlPort)
	// last byte stays reserved for the terminator
	PutFixedString(dst[resultMsgOff:ConnectResultLen-1], r.Message)
	dst[ConnectResultLen-1] = 0
	return ConnectResultLen, nil
}

func (r *ConnectResult) Decode(src []byte) (int, error) {
	if err := CheckMagic(src); err != nil {
		return 0, err
	}
	if err := need(src, ConnectResultLen); err != nil {
		return 0, err
	}
	if src[CmdOffset] != CmdConnectResult {
		return 0, fmt.Errorf("unexpected command 0x%02x", src[CmdOffset])
	}
	r.Failed = src[resultFailedOff] != 0
	r.Status = src[resultStatusOff]
	r.ControlPort = getI32(src[resultPortOff:])
	r.Message = FixedString(src[resultMsgOff:ConnectResultLen])
	return ConnectResultLen, nil
}

func (r *ConnectResult) Bytes() []byte {
	buf := make([]byte, ConnectResultLen)
	_, _ = r.Encode(buf)
	return buf
}

type DisconnectRequest struct {
	Port int32
}

func (r *DisconnectRequest) Encode(dst []byte) (int, error) {
	if len(dst) < DisconnectMinLen {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, DisconnectMinLen, len(dst))
	}
	putHeader(dst, CmdDisconnect)
	putI32(dst[connectPortOff:], r.Port)
	return DisconnectMinLen, nil
}

func (r *DisconnectRequest) Decode(src []byte) (int, error) {
	if err := need(src, DisconnectMinLen); err != nil {
		return 0, err
	}
	r.Port = getI32(src[connectPortOff:])
	return DisconnectMinLen, nil
}

// ResetPacket is sent to every port of a session that lost a forced takeover.
func ResetPacket(status byte) []byte {
	buf := make([]byte, ResetLen)
	putHeader(buf, CmdReset)
	buf[3] = status
	return buf
}

// DecodeIntensity reads the f64 intensity of SetHaptic / SetLED.
func DecodeIntensity(src []byte) (float32, error) {
	if err := need(src, IntensityMinLen); err != nil {
		return 0, err
	}
	return float32(getF64(src[intensityOff:])), nil
}

func EncodeIntensity(cmd byte, v float64) []byte {
	buf := make([]byte, IntensityMinLen)
	putHeader(buf, cmd)
	putF64(buf[intensityOff:], v)
	return buf
}

// SysConfig carries the four device configuration records and the serial they
// belong to. Records are kept as raw bytes; the device SDK owns their meaning.
type SysConfig struct {
	Driver           [DriverConfigLen]byte
	Input            [InputConfigLen]byte
	Calibration      [CalibrationLen]byte
	InputCalibration [InputCalibrationLen]byte
	Serial           string
}

func (c *SysConfig) Encode(dst []byte) (int, error) {
	if len(dst) < SysConfigMinLen {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, SysConfigMinLen, len(dst))
	}
	clear(dst[:SysConfigMinLen])
	putHeader(dst, CmdSysConfig)
	copy(dst[DriverConfigOffset:], c.Driver[:])
	copy(dst[InputConfigOffset:], c.Input[:])
	copy(dst[CalibrationOffset:], c.Calibration[:])
	copy(dst[InputCalibrationOffset:], c.InputCalibration[:])
	PutFixedString(dst[SysConfigSerialOffset:SysConfigSerialOffset+SerialLen], c.Serial)
	return SysConfigMinLen, nil
}

func (c *SysConfig) Decode(src []byte) (int, error) {
	if err := need(src, SysConfigMinLen); err != nil {
		return 0, err
	}
	copy(c.Driver[:], src[DriverConfigOffset:])
	copy(c.Input[:], src[InputConfigOffset:])
	copy(c.Calibration[:], src[CalibrationOffset:])
	copy(c.InputCalibration[:], src[InputCalibrationOffset:])
	c.Serial = FixedString(src[SysConfigSerialOffset : SysConfigSerialOffset+SerialLen])
	return SysConfigMinLen, nil
}

// SysConfigSerial reads only the serial field, so a mismatch can be rejected
// before any record is touched.
func SysConfigSerial(src []byte) (string, error) {
	if err := need(src, SysConfigMinLen); err != nil {
		return "", err
	}
	return FixedString(src[SysConfigSerialOffset : SysConfigSerialOffset+SerialLen]), nil
}

// StatusUpdate is the push sent to every registered port on new device data.
// Counter is 8 bytes on the wire (little-endian u64 at offset 3) and the
// payload starts at offset 11.
type StatusUpdate struct {
	Counter uint64
	Payload []byte
}

func (u *StatusUpdate) EncodedLen() int { return StatusHeaderLen + len(u.Payload) }

func (u *StatusUpdate) Encode(dst []byte) (int, error) {
	n := u.EncodedLen()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrBufferTooSmall, n, len(dst))
	}
	putHeader(dst, CmdWalkStatus)
	binary.LittleEndian.PutUint64(dst[statusCounterOff:], u.Counter)
	copy(dst[StatusHeaderLen:], u.Payload)
	return n, nil
}

func (u *StatusUpdate) Decode(src []byte) (int, error) {
	if err := CheckMagic(src); err != nil {
		return 0, err
	}
	if err := need(src, StatusHeaderLen); err != nil {
		return 0, err
	}
	u.Counter = binary.LittleEndian.Uint64(src[statusCounterOff:])
	u.Payload = append([]byte(nil), src[StatusHeaderLen:]...)
	return len(src), nil
}
