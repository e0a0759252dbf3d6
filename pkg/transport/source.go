package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Opener establishes one connection to the byte source.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Source keeps a byte stream open, reconnecting with linear backoff, and
// forwards every read as a fresh chunk on out.
type Source struct {
	name         string
	open         Opener
	out          chan<- []byte
	reconnect    time.Duration
	reconnectMax time.Duration
	bufSize      int
	dialTimeout  time.Duration
	errorHandler func(error)
	connHandler  func(connected bool)
	done         chan struct{}
}

type Option func(*Source)

func WithReconnectInterval(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.reconnectMax = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(s *Source) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

// WithConnHandler is told about every connect and disconnect.
func WithConnHandler(fn func(connected bool)) Option {
	return func(s *Source) {
		if fn != nil {
			s.connHandler = fn
		}
	}
}

func newSource(name string, out chan<- []byte, opts ...Option) *Source {
	s := &Source{
		name:         name,
		out:          out,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		bufSize:      4096,
		dialTimeout:  5 * time.Second,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs open in a reconnect loop until ctx is done.
func Start(ctx context.Context, name string, open Opener, out chan<- []byte, opts ...Option) *Source {
	s := newSource(name, out, opts...)
	s.open = open
	go s.run(ctx)
	return s
}

func (s *Source) Name() string {
	return s.name
}

// Done is closed once the source has stopped for good.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		rc, err := s.open(ctx)
		if err != nil {
			s.handleError(fmt.Errorf("open %s: %w", s.name, err))
			attempt++
			s.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		s.handleConn(true)
		err = s.pipe(ctx, rc)
		_ = rc.Close()
		s.handleConn(false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.handleError(fmt.Errorf("read %s: %w", s.name, err))
		}
		s.sleepBackoff(ctx, 1)
	}
}

func (s *Source) pipe(ctx context.Context, rc io.ReadCloser) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks a pending Read.
			_ = rc.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, s.bufSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

func (s *Source) sleepBackoff(ctx context.Context, attempt int) {
	wait := min(s.reconnect*time.Duration(attempt), s.reconnectMax)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

func (s *Source) handleError(err error) {
	if s.errorHandler != nil {
		s.errorHandler(err)
	}
}

func (s *Source) handleConn(connected bool) {
	if s.connHandler != nil {
		s.connHandler(connected)
	}
}
