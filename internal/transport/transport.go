// Package transport defines how device packets reach a board.
//
// A Transport delivers one decoded packet per Receive call. Receive must
// return promptly once its context is cancelled; that is what bounds board
// shutdown.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// ErrClosed is returned by Receive after the transport was closed.
var ErrClosed = errors.New("transport closed")

// Transport is a source of device packets.
type Transport interface {
	Receive(ctx context.Context) (Packet, error)
	Close() error
}

// Kind identifies the interface a packet arrived on.
type Kind uint8

// Packet kinds, one per board channel.
const (
	KindCAN1 Kind = iota + 1
	KindCAN2
	KindUART1
	KindUART2
	KindDBUS
	KindAccelerometer
	KindGyroscope
)

var kindNames = map[Kind]string{
	KindCAN1:          "can1",
	KindCAN2:          "can2",
	KindUART1:         "uart1",
	KindUART2:         "uart2",
	KindDBUS:          "dbus",
	KindAccelerometer: "accelerometer",
	KindGyroscope:     "gyroscope",
}

// String returns the channel name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind returns the kind for a channel name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// CANFrame is a received CAN frame. Data holds up to eight payload bytes
// little-endian; Length says how many are valid.
type CANFrame struct {
	ID       uint32
	Data     uint64
	Length   uint8
	Extended bool
	Remote   bool
}

// Bytes returns the valid payload bytes. Length is clamped to 8.
func (f CANFrame) Bytes() []byte {
	n := int(f.Length)
	if n > 8 {
		n = 8
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], f.Data)
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

// NewCANFrame builds a frame from payload bytes. At most eight are kept.
func NewCANFrame(id uint32, payload []byte, extended, remote bool) CANFrame {
	var buf [8]byte
	n := copy(buf[:], payload)
	return CANFrame{
		ID:       id,
		Data:     binary.LittleEndian.Uint64(buf[:]),
		Length:   uint8(n),
		Extended: extended,
		Remote:   remote,
	}
}

// IMUSample is one accelerometer or gyroscope reading.
type IMUSample struct {
	X, Y, Z int16
}

// Packet is one event from the device.
type Packet struct {
	Kind Kind
	Time time.Time

	// CAN is set for KindCAN1 and KindCAN2.
	CAN CANFrame

	// Data is set for KindUART1, KindUART2 and KindDBUS.
	Data []byte

	// IMU is set for KindAccelerometer and KindGyroscope.
	IMU IMUSample
}

// CANPacket builds a CAN packet.
func CANPacket(kind Kind, frame CANFrame) Packet {
	return Packet{Kind: kind, CAN: frame}
}

// SerialPacket builds a UART or DBUS packet.
func SerialPacket(kind Kind, data []byte) Packet {
	return Packet{Kind: kind, Data: data}
}

// IMUPacket builds an accelerometer or gyroscope packet.
func IMUPacket(kind Kind, x, y, z int16) Packet {
	return Packet{Kind: kind, IMU: IMUSample{X: x, Y: y, Z: z}}
}
