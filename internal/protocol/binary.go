package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Binary frames ride on websocket binary messages. The first byte selects
// the frame kind; the remainder is a fixed-size little-endian payload.
//
//	position: kind(1) + idHash(u32) + x(f32) + y(f32)              = 13 bytes
//	input:    kind(1) + seq(u32) + ts(u32) + keys(u8) + flags(u8)
//	          + aimX(i16) + aimY(i16) + facing(u8) + pad(u8)       = 17 bytes
//
// Aim components are fixed-point: value = int16 / 32767 (unit vector).
// Facing is the 8-way quantization of the aim angle; JSON envelopes carry
// radians, quantization happens only on this egress path.
const (
	FrameKindPosition uint8 = 1
	FrameKindInput    uint8 = 2

	positionFrameSize = 13
	inputFrameSize    = 17
)

// Input frame flag bits.
const (
	InputFlagAttack uint8 = 1 << 0
)

// PositionFrame is the compact per-entity position update.
type PositionFrame struct {
	IDHash uint32
	X, Y   float32
}

// HashEntityID maps an entity id string to the u32 used in position frames.
func HashEntityID(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32()
}

// EncodePositionFrame serializes a position frame.
func EncodePositionFrame(f PositionFrame) []byte {
	buf := make([]byte, positionFrameSize)
	buf[0] = FrameKindPosition
	binary.LittleEndian.PutUint32(buf[1:], f.IDHash)
	binary.LittleEndian.PutUint32(buf[5:], math.Float32bits(f.X))
	binary.LittleEndian.PutUint32(buf[9:], math.Float32bits(f.Y))
	return buf
}

// DecodePositionFrame parses a position frame.
func DecodePositionFrame(buf []byte) (PositionFrame, error) {
	if len(buf) != positionFrameSize || buf[0] != FrameKindPosition {
		return PositionFrame{}, fmt.Errorf("%w: bad position frame (%d bytes)", ErrProtocol, len(buf))
	}
	return PositionFrame{
		IDHash: binary.LittleEndian.Uint32(buf[1:]),
		X:      math.Float32frombits(binary.LittleEndian.Uint32(buf[5:])),
		Y:      math.Float32frombits(binary.LittleEndian.Uint32(buf[9:])),
	}, nil
}

// InputFrame is the compact client input message.
type InputFrame struct {
	Seq        uint32
	ClientTime uint32
	Keys       uint8
	Flags      uint8
	AimX, AimY float64 // unit vector components
}

// EncodeInputFrame serializes an input frame.
func EncodeInputFrame(f InputFrame) []byte {
	buf := make([]byte, inputFrameSize)
	buf[0] = FrameKindInput
	binary.LittleEndian.PutUint32(buf[1:], f.Seq)
	binary.LittleEndian.PutUint32(buf[5:], f.ClientTime)
	buf[9] = f.Keys
	buf[10] = f.Flags
	binary.LittleEndian.PutUint16(buf[11:], uint16(packAim(f.AimX)))
	binary.LittleEndian.PutUint16(buf[13:], uint16(packAim(f.AimY)))
	buf[15] = QuantizeFacing(math.Atan2(f.AimY, f.AimX))
	return buf
}

// DecodeInputFrame parses an input frame.
func DecodeInputFrame(buf []byte) (InputFrame, error) {
	if len(buf) != inputFrameSize || buf[0] != FrameKindInput {
		return InputFrame{}, fmt.Errorf("%w: bad input frame (%d bytes)", ErrProtocol, len(buf))
	}
	return InputFrame{
		Seq:        binary.LittleEndian.Uint32(buf[1:]),
		ClientTime: binary.LittleEndian.Uint32(buf[5:]),
		Keys:       buf[9],
		Flags:      buf[10],
		AimX:       unpackAim(int16(binary.LittleEndian.Uint16(buf[11:]))),
		AimY:       unpackAim(int16(binary.LittleEndian.Uint16(buf[13:]))),
	}, nil
}

func packAim(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

func unpackAim(v int16) float64 {
	return float64(v) / 32767
}

// QuantizeFacing maps an angle in radians to the nearest of 8 directions,
// 0 = east, proceeding counter-clockwise in 45° steps.
func QuantizeFacing(rad float64) uint8 {
	const step = math.Pi / 4
	n := int(math.Round(rad/step)) % 8
	if n < 0 {
		n += 8
	}
	return uint8(n)
}

// FacingAngle converts an 8-way facing back to radians.
func FacingAngle(dir uint8) float64 {
	return float64(dir%8) * (math.Pi / 4)
}
