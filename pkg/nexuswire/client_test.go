package nexuswire

import (
	"errors"
	"testing"
)

func TestDecodePingExtendsBuffer(t *testing.T) {
	raw := EncodePing(5005)
	p, err := DecodePing(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if p.Port != 5005 {
		t.Fatalf("port: got %d want 5005", p.Port)
	}
	if len(p.Buf) != PingReplyLen {
		t.Fatalf("reply buffer should be %d bytes, got %d", PingReplyLen, len(p.Buf))
	}

	reply := p.Pong(1700000000.25)
	if reply[CmdOffset] != CmdPong {
		t.Fatalf("expected pong, got 0x%02x", reply[CmdOffset])
	}
	ts, err := PingTimestamp(reply)
	if err != nil {
		t.Fatalf("timestamp failed: %v", err)
	}
	if ts != 1700000000.25 {
		t.Fatalf("timestamp: got %v", ts)
	}
	if raw[CmdOffset] != CmdPing {
		t.Fatalf("reply must not alias the received datagram")
	}
}

func TestDecodePingKeepsLongPayload(t *testing.T) {
	raw := make([]byte, 300)
	copy(raw, EncodePing(7000))
	raw[299] = 0xAB
	p, err := DecodePing(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(p.Buf) != 300 || p.Buf[299] != 0xAB {
		t.Fatalf("long payload not preserved")
	}
}

func TestPingReset(t *testing.T) {
	p, err := DecodePing(EncodePing(6000))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	reply := p.Reset(1, StatusNotConnected)
	if reply[CmdOffset] != CmdReset || reply[3] != StatusNotConnected {
		t.Fatalf("unexpected reset header % x", reply[:4])
	}
}

func TestShortPacketsRejected(t *testing.T) {
	cases := []struct {
		name string
		fn   func([]byte) error
		min  int
	}{
		{"ping", func(b []byte) error { _, err := DecodePing(b); return err }, PingMinLen},
		{"connect", func(b []byte) error { var r ConnectRequest; _, err := r.Decode(b); return err }, ConnectMinLen},
		{"disconnect", func(b []byte) error { var r DisconnectRequest; _, err := r.Decode(b); return err }, DisconnectMinLen},
		{"intensity", func(b []byte) error { _, err := DecodeIntensity(b); return err }, IntensityMinLen},
		{"sysconfig", func(b []byte) error { var c SysConfig; _, err := c.Decode(b); return err }, SysConfigMinLen},
	}
	for _, tc := range cases {
		buf := make([]byte, tc.min-1)
		buf[0], buf[1] = Magic0, Magic1
		if err := tc.fn(buf); !errors.Is(err, ErrShortPacket) {
			t.Fatalf("%s: expected ErrShortPacket, got %v", tc.name, err)
		}
	}
}

func TestConnectRequestEncodeDecode(t *testing.T) {
	in := ConnectRequest{Port: 5005, Force: true}
	buf := make([]byte, ConnectMinLen)
	if _, err := in.Encode(buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if buf[CmdOffset] != CmdConnect {
		t.Fatalf("wrong command byte 0x%02x", buf[CmdOffset])
	}
	var out ConnectRequest
	if _, err := out.Decode(buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v want %+v", out, in)
	}
}

func TestConnectResultFixedSize(t *testing.T) {
	res := ConnectResult{ControlPort: ControlPort, Message: "KAT0123456789"}
	buf := res.Bytes()
	if len(buf) != ConnectResultLen {
		t.Fatalf("connect result should be %d bytes, got %d", ConnectResultLen, len(buf))
	}
	if buf[CmdOffset] != CmdConnectResult || buf[3] != 0 || buf[4] != StatusOK {
		t.Fatalf("unexpected header % x", buf[:5])
	}
	if getI32(buf[5:]) != ControlPort {
		t.Fatalf("control port missing at offset 5")
	}
	if FixedString(buf[9:]) != "KAT0123456789" || buf[9+13] != 0 {
		t.Fatalf("message not null terminated at 9")
	}

	var out ConnectResult
	if _, err := out.Decode(buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != res {
		t.Fatalf("got %+v want %+v", out, res)
	}
}

func TestConnectResultLongMessageTruncated(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	res := ConnectResult{Failed: true, Status: StatusBusy, Message: string(long)}
	buf := res.Bytes()
	if len(buf) != ConnectResultLen {
		t.Fatalf("size changed to %d", len(buf))
	}
	if buf[ConnectResultLen-1] != 0 {
		t.Fatalf("missing terminator")
	}
	var out ConnectResult
	if _, err := out.Decode(buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out.Message) != ConnectResultLen-9-1 {
		t.Fatalf("unexpected message length %d", len(out.Message))
	}
}

func TestResetPacket(t *testing.T) {
	got := ResetPacket(StatusResetByTakeover)
	want := []byte{0x84, 0x11, CmdReset, 1, 0}
	if string(got) != string(want) {
		t.Fatalf("got % x want % x", got, want)
	}
}

func TestSysConfigEncodeDecode(t *testing.T) {
	var in SysConfig
	for i := range in.Driver {
		in.Driver[i] = byte(i + 1)
	}
	in.Input[0] = 0x11
	in.Calibration[CalibrationLen-1] = 0x22
	in.InputCalibration[3] = 0x33
	in.Serial = "KAT0123456789"

	buf := make([]byte, SysConfigMinLen)
	if _, err := in.Encode(buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if buf[DriverConfigOffset] != 1 || buf[InputConfigOffset] != 0x11 {
		t.Fatalf("records at wrong offsets")
	}
	if buf[CalibrationOffset+CalibrationLen-1] != 0x22 || buf[InputCalibrationOffset+3] != 0x33 {
		t.Fatalf("calibration records at wrong offsets")
	}
	serial, err := SysConfigSerial(buf)
	if err != nil || serial != in.Serial {
		t.Fatalf("serial: got %q err %v", serial, err)
	}

	var out SysConfig
	if _, err := out.Decode(buf); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch")
	}
}

func TestIntensity(t *testing.T) {
	v, err := DecodeIntensity(EncodeIntensity(CmdSetLED, 0.75))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if v != 0.75 {
		t.Fatalf("got %v want 0.75", v)
	}
}

func TestStatusUpdateEncodeDecode(t *testing.T) {
	in := StatusUpdate{Counter: 42, Payload: []byte{1, 2, 3, 4}}
	buf := make([]byte, in.EncodedLen())
	n, err := in.Encode(buf)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if n != StatusHeaderLen+4 || buf[CmdOffset] != CmdWalkStatus {
		t.Fatalf("unexpected header % x", buf[:StatusHeaderLen])
	}
	var out StatusUpdate
	if _, err := out.Decode(buf[:n]); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Counter != 42 || string(out.Payload) != string(in.Payload) {
		t.Fatalf("got %+v", out)
	}
	if _, err := in.Encode(make([]byte, 5)); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestStatusUpdateWireLayout(t *testing.T) {
	in := StatusUpdate{Counter: 0x0102030405060708, Payload: []byte{0xaa}}
	buf := make([]byte, in.EncodedLen())
	if _, err := in.Encode(buf); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := []byte{0x84, 0x11, CmdWalkStatus, 8, 7, 6, 5, 4, 3, 2, 1, 0xaa}
	if string(buf) != string(want) {
		t.Fatalf("wire bytes % x, want % x", buf, want)
	}
}

func TestPeekCommand(t *testing.T) {
	if cmd, ok := PeekCommand([]byte{0x84, 0x11, CmdSetHaptic}); !ok || cmd != CmdSetHaptic {
		t.Fatalf("got %v %v", cmd, ok)
	}
	if _, ok := PeekCommand([]byte{0x84, 0x11}); ok {
		t.Fatalf("two byte packet has no command")
	}
	if _, ok := PeekCommand([]byte{84, 11, 0}); ok {
		t.Fatalf("decimal magic must be rejected")
	}
}
