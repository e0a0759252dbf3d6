package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate is what ThinkGear headsets use over Bluetooth SPP.
const DefaultBaudRate = 9600

// SerialMode returns 8 data bits, no parity, one stop bit at baud.
func SerialMode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// StartSerial streams bytes from a serial port, reopening it whenever the
// link drops (a Bluetooth headset going out of range, for instance).
func StartSerial(ctx context.Context, port string, baud int, out chan<- []byte, opts ...Option) *Source {
	return Start(ctx, "serial "+port, func(context.Context) (io.ReadCloser, error) {
		p, err := serial.Open(port, SerialMode(baud))
		if err != nil {
			return nil, err
		}
		return p, nil
	}, out, opts...)
}

// OpenSerialWriter opens a port for writing only, e.g. for an actuator board.
func OpenSerialWriter(port string, baud int) (io.WriteCloser, error) {
	p, err := serial.Open(port, SerialMode(baud))
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return p, nil
}

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
