package protocol

import "time"

// Framing constants of the ThinkGear serial stream.
const (
	SyncByte         = 0xAA
	MaxPayloadLength = 32
	PowerBandCount   = 8

	// DefaultSignalQuality is reported until the headset sends a reading.
	DefaultSignalQuality = 200
)

// Payload codes understood by the decoder.
const (
	CodeSignalQuality = 0x02
	CodeFocus         = 0x04
	CodeMeditation    = 0x05
	CodeRawValue      = 0x80
	CodePowerBands    = 0x83
)

// PowerBands holds the eight band powers in device order:
// delta, theta, low alpha, high alpha, low beta, high beta, low gamma, mid gamma.
type PowerBands [PowerBandCount]uint16

// TelemetryRecord is one decoded packet. Signal quality, focus and
// meditation carry over from earlier packets when a packet omits them.
type TelemetryRecord struct {
	SignalQuality uint8      `json:"signal_quality"`
	Focus         int8       `json:"focus"`
	Meditation    int8       `json:"meditation"`
	RawEEG        uint16     `json:"raw"`
	PowerBands    PowerBands `json:"bands"`
}

// Sample is the normalized unit flowing through the pipeline.
type Sample struct {
	Seq       uint64
	Timestamp time.Time
	Record    TelemetryRecord
	ParseOK   bool
}

// Listener receives every checksum-valid record. parseOK is false when the
// payload contained a code the decoder does not understand.
type Listener interface {
	OnRecord(rec TelemetryRecord, parseOK bool)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(rec TelemetryRecord, parseOK bool)

func (f ListenerFunc) OnRecord(rec TelemetryRecord, parseOK bool) {
	f(rec, parseOK)
}
