package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// Replay sends r to out in chunks of chunkSize bytes, pausing delay between
// chunks, and returns nil at EOF.
func Replay(ctx context.Context, r io.Reader, out chan<- []byte, chunkSize int, delay time.Duration) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
