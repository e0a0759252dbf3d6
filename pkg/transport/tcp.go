package transport

import (
	"context"
	"io"
	"net"
)

// StartTCP reads a raw byte stream from a serial-over-TCP bridge such as
// ser2net or an RFCOMM relay.
func StartTCP(ctx context.Context, addr string, out chan<- []byte, opts ...Option) *Source {
	s := newSource("tcp "+addr, out, opts...)
	s.open = func(ctx context.Context) (io.ReadCloser, error) {
		dialer := net.Dialer{Timeout: s.dialTimeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	go s.run(ctx)
	return s
}
