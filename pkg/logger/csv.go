package logger

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"go.uber.org/zap"

	"brainlink/pkg/analysis"
	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

// CSVWindowWriter appends the raw-value window as one row every `every`
// samples. The oldest point is evicted before a row is written, so a row
// never holds more than windowSize-1 values.
type CSVWindowWriter struct {
	w      *csv.Writer
	window *analysis.Window
	every  int
	count  int
}

func NewCSVWindowWriter(w io.Writer, windowSize int, every int) *CSVWindowWriter {
	if every <= 0 {
		every = windowSize - 1
	}
	return &CSVWindowWriter{
		w:      csv.NewWriter(w),
		window: analysis.NewWindow(windowSize - 1),
		every:  every,
	}
}

// Add records a sample and reports whether a row was written.
func (c *CSVWindowWriter) Add(s protocol.Sample) (bool, error) {
	c.window.Push(int(s.Record.RawEEG))
	c.count++
	if c.count < c.every {
		return false, nil
	}
	c.count = 0

	values := c.window.Values()
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = strconv.Itoa(v)
	}
	if err := c.w.Write(row); err != nil {
		return false, err
	}
	c.w.Flush()
	return true, c.w.Error()
}

func (c *CSVWindowWriter) Consume(ctx context.Context, in <-chan protocol.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if _, err := c.Add(s); err != nil {
				logging.Warn("csv write failed", zap.Uint64("seq", s.Seq), zap.Error(err))
			}
		}
	}
}
