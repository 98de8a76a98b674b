package board

import (
	"github.com/dshills/boardlink/internal/event"
	"github.com/dshills/boardlink/internal/transport"
)

// Channel names.
const (
	CAN1          = "can1"
	CAN2          = "can2"
	UART1         = "uart1"
	UART2         = "uart2"
	DBUS          = "dbus"
	Accelerometer = "accelerometer"
	Gyroscope     = "gyroscope"
)

// Event shapes.
var (
	CANShape = event.MustShape(
		event.Param{Name: "can_id", Kind: event.KindUint32},
		event.Param{Name: "can_data", Kind: event.KindBytes},
		event.Param{Name: "is_extended_can_id", Kind: event.KindBool},
		event.Param{Name: "is_remote_transmission", Kind: event.KindBool},
	)

	SerialShape = event.MustShape(
		event.Param{Name: "uart_data", Kind: event.KindBytes},
	)

	IMUShape = event.MustShape(
		event.Param{Name: "x", Kind: event.KindInt16},
		event.Param{Name: "y", Kind: event.KindInt16},
		event.Param{Name: "z", Kind: event.KindInt16},
	)
)

type channelSpec struct {
	name  string
	shape event.Shape
	kind  transport.Kind
}

// channelSpecs lists the channels in their fixed order.
var channelSpecs = []channelSpec{
	{CAN1, CANShape, transport.KindCAN1},
	{CAN2, CANShape, transport.KindCAN2},
	{UART1, SerialShape, transport.KindUART1},
	{UART2, SerialShape, transport.KindUART2},
	{DBUS, SerialShape, transport.KindDBUS},
	{Accelerometer, IMUShape, transport.KindAccelerometer},
	{Gyroscope, IMUShape, transport.KindGyroscope},
}

// ChannelNames returns every channel name in fixed order.
func ChannelNames() []string {
	names := make([]string, len(channelSpecs))
	for i, s := range channelSpecs {
		names[i] = s.name
	}
	return names
}
