package logger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"

	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

type JSONLWriter struct {
	enc     *json.Encoder
	session string
}

type jsonRecord struct {
	TS            string              `json:"ts"`
	Seq           uint64              `json:"seq"`
	Session       string              `json:"session,omitempty"`
	ParseOK       bool                `json:"parse_ok"`
	SignalQuality uint8               `json:"signal_quality"`
	Focus         int8                `json:"focus"`
	Meditation    int8                `json:"meditation"`
	Raw           uint16              `json:"raw"`
	Bands         protocol.PowerBands `json:"bands"`
}

// NewJSONLWriter writes one JSON object per sample. session tags every line
// so several runs can share a file.
func NewJSONLWriter(w io.Writer, session string) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{
		enc:     enc,
		session: session,
	}
}

func (j *JSONLWriter) Write(s protocol.Sample) error {
	return j.enc.Encode(jsonRecord{
		TS:            s.Timestamp.UTC().Format(time.RFC3339Nano),
		Seq:           s.Seq,
		Session:       j.session,
		ParseOK:       s.ParseOK,
		SignalQuality: s.Record.SignalQuality,
		Focus:         s.Record.Focus,
		Meditation:    s.Record.Meditation,
		Raw:           s.Record.RawEEG,
		Bands:         s.Record.PowerBands,
	})
}

func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if err := j.Write(s); err != nil {
				logging.Warn("jsonl write failed", zap.Uint64("seq", s.Seq), zap.Error(err))
			}
		}
	}
}
