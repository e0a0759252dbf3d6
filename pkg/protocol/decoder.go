package protocol

import "encoding/binary"

// Stats counts what the decoder has seen since it was created. Checksum
// errors and oversize lengths never produce a record, so these counters are
// the only trace they leave.
type Stats struct {
	Bytes           uint64
	Packets         uint64
	ParseFailures   uint64
	ChecksumErrors  uint64
	OversizeLengths uint64
}

type Option func(*Decoder)

// WithStrictPayload stops the payload scan at the first unknown code
// instead of flagging it and carrying on with the next byte.
func WithStrictPayload() Option {
	return func(d *Decoder) {
		d.strict = true
	}
}

type decoderState struct {
	lastByte     byte
	inPacket     bool
	packetIndex  int
	packetLength int
	checksum     int
	buf          [MaxPayloadLength]byte

	signalQuality uint8
	focus         int8
	meditation    int8
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// Decoder turns a ThinkGear byte stream into TelemetryRecords.
//
// Feed and Write are not safe for concurrent use; callers delivering chunks
// from several goroutines must serialize them.
type Decoder struct {
	state     decoderState
	strict    bool
	listeners []listenerEntry
	nextID    uint64
	stats     Stats
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{}
	d.state.signalQuality = DefaultSignalQuality
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddListener registers l and returns a function that unregisters it.
// Listeners are called synchronously from Feed in registration order.
func (d *Decoder) AddListener(l Listener) (remove func()) {
	if l == nil {
		return func() {}
	}
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, listenerEntry{id: id, listener: l})
	return func() {
		d.removeListener(id)
	}
}

func (d *Decoder) removeListener(id uint64) {
	for i, entry := range d.listeners {
		if entry.id == id {
			// Copy so a removal during notification leaves the slice being ranged over intact.
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Feed consumes a chunk of any size, including zero.
func (d *Decoder) Feed(chunk []byte) {
	for _, b := range chunk {
		d.step(b)
	}
}

// Write implements io.Writer so a port can be drained with io.Copy.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

// InPacket reports whether the decoder is accumulating a packet body.
func (d *Decoder) InPacket() bool {
	return d.state.inPacket
}

func (d *Decoder) step(b byte) {
	s := &d.state
	d.stats.Bytes++

	if s.inPacket {
		switch {
		case s.packetIndex == 0:
			s.packetLength = int(b)
			if s.packetLength > MaxPayloadLength {
				s.inPacket = false
				d.stats.OversizeLengths++
			}
		case s.packetIndex <= s.packetLength:
			s.buf[s.packetIndex-1] = b
			s.checksum += int(b)
		default:
			expected := byte(0xFF - (s.checksum & 0xFF))
			if b == expected {
				d.emit()
			} else {
				d.stats.ChecksumErrors++
			}
			s.inPacket = false
		}
		s.packetIndex++
	}

	// Runs on every byte, including the one that just closed a packet.
	if !s.inPacket && b == SyncByte && s.lastByte == SyncByte {
		s.inPacket = true
		s.packetIndex = 0
		s.checksum = 0
	}
	s.lastByte = b
}

func (d *Decoder) emit() {
	rec, ok := d.parsePayload()
	d.stats.Packets++
	if !ok {
		d.stats.ParseFailures++
	}
	for _, entry := range d.listeners {
		entry.listener.OnRecord(rec, ok)
	}
}

func (d *Decoder) parsePayload() (TelemetryRecord, bool) {
	s := &d.state
	payload := s.buf[:s.packetLength]

	var raw uint16
	var bands PowerBands
	ok := true

scan:
	for i := 0; i < len(payload); i++ {
		switch payload[i] {
		case CodeSignalQuality, CodeFocus, CodeMeditation:
			if i+1 >= len(payload) {
				ok = false
				break scan
			}
			v := payload[i+1]
			switch payload[i] {
			case CodeSignalQuality:
				s.signalQuality = v
			case CodeFocus:
				s.focus = int8(v)
			case CodeMeditation:
				s.meditation = int8(v)
			}
			i++
		case CodeRawValue:
			// code, length byte, high, low
			if i+3 >= len(payload) {
				ok = false
				break scan
			}
			raw = binary.BigEndian.Uint16(payload[i+2 : i+4])
			i += 3
		case CodePowerBands:
			// code, length byte, 8 big-endian pairs
			end := i + 2 + 2*PowerBandCount
			if end > len(payload) {
				ok = false
				break scan
			}
			for j := range bands {
				off := i + 2 + 2*j
				bands[j] = binary.BigEndian.Uint16(payload[off : off+2])
			}
			i = end - 1
		default:
			ok = false
			if d.strict {
				break scan
			}
		}
	}

	return TelemetryRecord{
		SignalQuality: s.signalQuality,
		Focus:         s.focus,
		Meditation:    s.meditation,
		RawEEG:        raw,
		PowerBands:    bands,
	}, ok
}
