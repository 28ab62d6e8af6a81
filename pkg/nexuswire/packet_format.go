// Package nexuswire encodes and decodes the Nexus UDP protocol. Every packet
// starts with the two magic bytes 0x84 0x11; all integers and floats are
// little-endian and records carry no implicit padding.
package nexuswire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	Magic0 byte = 0x84
	Magic1 byte = 0x11

	MagicLen = 2

	// command byte sits right after the magic
	CmdOffset = 2

	DiscoveryPort = 1181
	ControlPort   = 3500

	MaxClientPorts = 8
)

// Command bytes understood on the control port.
const (
	CmdPing          byte = 0x00
	CmdPong          byte = 0x01
	CmdSysConfig     byte = 0x0A
	CmdConnect       byte = 0x14
	CmdConnectResult byte = 0x15
	CmdReset         byte = 0x16
	CmdDisconnect    byte = 0x17
	CmdSetHaptic     byte = 0x50
	CmdSetLED        byte = 0x51
	CmdWalkStatus    byte = 0x63
)

// Status bytes carried by ConnectResult and Reset packets.
const (
	StatusOK               byte = 0
	StatusResetByTakeover  byte = 1
	StatusNotConnected     byte = 2 // also used for "port limit reached"
	StatusAlreadyConnected byte = 3
	StatusBusy             byte = 11
)

var (
	ErrShortPacket    = errors.New("packet too short")
	ErrBadMagic       = errors.New("bad magic")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrTruncated      = errors.New("packet truncated")
)

// CheckMagic validates the 2-byte prefix shared by all packets.
func CheckMagic(src []byte) error {
	if len(src) < MagicLen {
		return fmt.Errorf("%w: need %d, got %d", ErrShortPacket, MagicLen, len(src))
	}
	if src[0] != Magic0 || src[1] != Magic1 {
		return fmt.Errorf("%w: % x", ErrBadMagic, src[:MagicLen])
	}
	return nil
}

// PeekCommand returns the command byte of a packet with a valid prefix.
func PeekCommand(src []byte) (byte, bool) {
	if CheckMagic(src) != nil || len(src) <= CmdOffset {
		return 0, false
	}
	return src[CmdOffset], true
}

func putHeader(dst []byte, cmd byte) {
	dst[0] = Magic0
	dst[1] = Magic1
	dst[CmdOffset] = cmd
}

func need(src []byte, n int) error {
	if len(src) < n {
		return fmt.Errorf("%w: need %d, got %d", ErrShortPacket, n, len(src))
	}
	return nil
}

// PutFixedString writes s into dst, truncated or null-padded to len(dst).
func PutFixedString(dst []byte, s string) {
	n := copy(dst, s)
	clear(dst[n:])
}

// FixedString reads a null-padded ASCII field, stopping at the first null.
func FixedString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

func putBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
		return
	}
	dst[0] = 0
}

func putI32(dst []byte, v int32) { binary.LittleEndian.PutUint32(dst, uint32(v)) }
func getI32(src []byte) int32    { return int32(binary.LittleEndian.Uint32(src)) }

func putF32(dst []byte, v float32) { binary.LittleEndian.PutUint32(dst, math.Float32bits(v)) }
func getF32(src []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(src)) }

func putF64(dst []byte, v float64) { binary.LittleEndian.PutUint64(dst, math.Float64bits(v)) }
func getF64(src []byte) float64    { return math.Float64frombits(binary.LittleEndian.Uint64(src)) }
