package secure

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/roah-benchmarks/refboxcore/internal/types"
)

// MsgType identifies which of the two datagram kinds a frame carries.
type MsgType uint8

const (
	// MsgBenchmarkState carries a RefBox -> Robot BenchmarkStateFrame.
	MsgBenchmarkState MsgType = 1
	// MsgRobotState carries a Robot -> RefBox RobotStateFrame.
	MsgRobotState MsgType = 2
)

// compID identifies the wire format's protocol component. It is constant
// across this implementation; it exists on the wire so a future protocol
// revision can reject frames from an incompatible peer outright.
const compID uint16 = 0x5242 // "RB"

// frameHeader is the fixed COMP_ID/MSG_TYPE header prefixed to every
// plaintext payload before it is sealed.
type frameHeader struct {
	CompID  uint16
	MsgType MsgType
}

const headerSize = 3

func encodeHeader(h frameHeader) []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], h.CompID)
	buf[2] = byte(h.MsgType)
	return buf
}

func decodeHeader(b []byte) (frameHeader, []byte, error) {
	if len(b) < headerSize {
		return frameHeader{}, nil, fmt.Errorf("secure: frame shorter than header")
	}
	h := frameHeader{
		CompID:  binary.BigEndian.Uint16(b[0:2]),
		MsgType: MsgType(b[2]),
	}
	if h.CompID != compID {
		return frameHeader{}, nil, fmt.Errorf("secure: unrecognized COMP_ID %#x", h.CompID)
	}
	return h, b[headerSize:], nil
}

// EncodeBenchmarkState serializes a BenchmarkStateFrame with its header,
// ready to be sealed by a Cipher.
func EncodeBenchmarkState(f types.BenchmarkStateFrame) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(frameHeader{CompID: compID, MsgType: MsgBenchmarkState}))
	writeString(&buf, f.BenchmarkType)
	buf.WriteByte(byte(f.BenchmarkState))
	writeTime(&buf, f.Acknowledgement)
	writeBool(&buf, f.HasGenericGoal)
	writeString(&buf, f.GenericGoal)
	return buf.Bytes()
}

// DecodeBenchmarkState parses a plaintext payload previously produced by
// EncodeBenchmarkState. Receiving this frame type on the robot-facing side
// of a Channel indicates a second transmitter on the channel (a rogue
// peer) and must be treated as a hard protocol error by the caller.
func DecodeBenchmarkState(b []byte) (types.BenchmarkStateFrame, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return types.BenchmarkStateFrame{}, err
	}
	if h.MsgType != MsgBenchmarkState {
		return types.BenchmarkStateFrame{}, fmt.Errorf("secure: not a benchmark-state frame")
	}
	r := bytes.NewReader(rest)
	var f types.BenchmarkStateFrame
	var err2 error
	if f.BenchmarkType, err2 = readString(r); err2 != nil {
		return f, err2
	}
	bs, err2 := r.ReadByte()
	if err2 != nil {
		return f, fmt.Errorf("secure: reading benchmark_state: %w", err2)
	}
	f.BenchmarkState = types.BenchmarkState(bs)
	if f.Acknowledgement, err2 = readTime(r); err2 != nil {
		return f, err2
	}
	if f.HasGenericGoal, err2 = readBool(r); err2 != nil {
		return f, err2
	}
	if f.GenericGoal, err2 = readString(r); err2 != nil {
		return f, err2
	}
	return f, nil
}

// EncodeRobotState serializes a RobotStateFrame with its header.
func EncodeRobotState(f types.RobotStateFrame) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(frameHeader{CompID: compID, MsgType: MsgRobotState}))
	writeTime(&buf, f.Time)
	buf.WriteByte(byte(f.RobotState))
	writeUint32(&buf, f.MessagesSaved)
	writeBundles(&buf, f.Notifications)
	writeBundles(&buf, f.ActivationEvents)
	writeBundles(&buf, f.Visitors)
	writeBundles(&buf, f.FinalCommands)
	writeBool(&buf, f.HasGenericResult)
	writeString(&buf, f.GenericResult)
	writeDeviceState(&buf, f.Devices)
	return buf.Bytes()
}

// DecodeRobotState parses a plaintext payload previously produced by
// EncodeRobotState.
func DecodeRobotState(b []byte) (types.RobotStateFrame, error) {
	h, rest, err := decodeHeader(b)
	if err != nil {
		return types.RobotStateFrame{}, err
	}
	if h.MsgType != MsgRobotState {
		return types.RobotStateFrame{}, fmt.Errorf("secure: not a robot-state frame")
	}
	r := bytes.NewReader(rest)
	var f types.RobotStateFrame
	var err2 error
	if f.Time, err2 = readTime(r); err2 != nil {
		return f, err2
	}
	rs, err2 := r.ReadByte()
	if err2 != nil {
		return f, fmt.Errorf("secure: reading robot_state: %w", err2)
	}
	f.RobotState = types.RobotState(rs)
	if f.MessagesSaved, err2 = readUint32(r); err2 != nil {
		return f, err2
	}
	if f.Notifications, err2 = readBundles(r); err2 != nil {
		return f, err2
	}
	if f.ActivationEvents, err2 = readBundles(r); err2 != nil {
		return f, err2
	}
	if f.Visitors, err2 = readBundles(r); err2 != nil {
		return f, err2
	}
	if f.FinalCommands, err2 = readBundles(r); err2 != nil {
		return f, err2
	}
	if f.HasGenericResult, err2 = readBool(r); err2 != nil {
		return f, err2
	}
	if f.GenericResult, err2 = readString(r); err2 != nil {
		return f, err2
	}
	if f.Devices, err2 = readDeviceState(r); err2 != nil {
		return f, err2
	}
	return f, nil
}

// PeekMsgType reports which MsgType a decrypted plaintext frame carries,
// without fully decoding it. Channel uses this to route an inbound frame
// to the right decoder.
func PeekMsgType(b []byte) (MsgType, error) {
	h, _, err := decodeHeader(b)
	if err != nil {
		return 0, err
	}
	return h.MsgType, nil
}
