package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrPayloadTooLong = errors.New("payload exceeds maximum length")

// Checksum returns the trailing byte for payload: 255 - (sum mod 256).
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return 0xFF - sum
}

// Encode frames payload as SYNC SYNC LEN PAYLOAD CHECKSUM.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("encode %d bytes: %w", len(payload), ErrPayloadTooLong)
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, SyncByte, SyncByte, byte(len(payload)))
	out = append(out, payload...)
	out = append(out, Checksum(payload))
	return out, nil
}

func AppendSignalQuality(payload []byte, v uint8) []byte {
	return append(payload, CodeSignalQuality, v)
}

func AppendFocus(payload []byte, v int8) []byte {
	return append(payload, CodeFocus, byte(v))
}

func AppendMeditation(payload []byte, v int8) []byte {
	return append(payload, CodeMeditation, byte(v))
}

func AppendRawValue(payload []byte, v uint16) []byte {
	payload = append(payload, CodeRawValue, 2)
	return binary.BigEndian.AppendUint16(payload, v)
}

func AppendPowerBands(payload []byte, bands PowerBands) []byte {
	payload = append(payload, CodePowerBands, 2*PowerBandCount)
	for _, v := range bands {
		payload = binary.BigEndian.AppendUint16(payload, v)
	}
	return payload
}

// EncodeRecord builds the single packet that carries every field of rec.
func EncodeRecord(rec TelemetryRecord) ([]byte, error) {
	payload := make([]byte, 0, MaxPayloadLength)
	payload = AppendSignalQuality(payload, rec.SignalQuality)
	payload = AppendFocus(payload, rec.Focus)
	payload = AppendMeditation(payload, rec.Meditation)
	payload = AppendRawValue(payload, rec.RawEEG)
	payload = AppendPowerBands(payload, rec.PowerBands)
	return Encode(payload)
}
