// Package serial encodes and decodes Z-Wave serial API data frames.
//
// A data frame is laid out as
//
//	[SOF][len][type][function][data...][checksum]
//
// where len counts every byte after itself, checksum included, and the
// checksum is 0xFF XOR every byte from len through the last data byte.
package serial

import (
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// NodeID is a classic one-byte Z-Wave node id
type NodeID uint8

const (
	SOF byte = 0x01
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x18

	TypeRequest  byte = 0x00
	TypeResponse byte = 0x01

	FuncApplicationCommandHandler byte = 0x04
	FuncSendData                  byte = 0x13

	checksumSeed byte = 0xFF
)

// Frame field offsets
const (
	offsetSOF      = 0
	offsetLength   = 1
	offsetType     = 2
	offsetFunction = 3
	offsetData     = 4

	// SOF, len, type, function, checksum
	frameOverhead = 5
	// MaxDataLen keeps len (data + type + function + checksum) within one byte
	MaxDataLen = 0xFF - 3
)

// Frame is one serial API data frame
type Frame struct {
	Type     byte
	Function byte
	Data     []byte
}

// Checksum returns 0xFF XOR every byte of b
func Checksum(b []byte) byte {
	sum := checksumSeed
	for _, v := range b {
		sum ^= v
	}
	return sum
}

// MarshalBinary encodes the frame with SOF, length and checksum
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > MaxDataLen {
		return nil, oops.Wrapf(ErrFrameTooLong, "%d data bytes", len(f.Data))
	}
	out := make([]byte, frameOverhead+len(f.Data))
	out[offsetSOF] = SOF
	out[offsetLength] = byte(len(out) - 2)
	out[offsetType] = f.Type
	out[offsetFunction] = f.Function
	copy(out[offsetData:], f.Data)
	out[len(out)-1] = Checksum(out[offsetLength : len(out)-1])
	return out, nil
}

// UnmarshalBinary validates SOF, length and checksum and fills the frame.
// Data aliases b.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < frameOverhead {
		return oops.Wrapf(ErrFrameTooShort, "%d bytes", len(b))
	}
	if b[offsetSOF] != SOF {
		return oops.Wrapf(ErrBadSOF, "got 0x%02x", b[offsetSOF])
	}
	if int(b[offsetLength]) != len(b)-2 {
		return oops.Wrapf(ErrLengthMismatch, "length byte %d, frame %d bytes", b[offsetLength], len(b))
	}
	if want := Checksum(b[offsetLength : len(b)-1]); b[len(b)-1] != want {
		log.WithFields(logger.Fields{
			"at":       "Frame.UnmarshalBinary",
			"reason":   "bad_checksum",
			"got":      b[len(b)-1],
			"expected": want,
		}).Warn("dropping serial frame")
		return oops.Wrapf(ErrBadChecksum, "got 0x%02x want 0x%02x", b[len(b)-1], want)
	}
	f.Type = b[offsetType]
	f.Function = b[offsetFunction]
	f.Data = b[offsetData : len(b)-1]
	return nil
}
