package analysis

import (
	"context"

	"brainlink/pkg/protocol"
)

const (
	DefaultWindow         = 100
	DefaultSampleFraction = 0.2
	DefaultThreshold      = 1.15
)

// Decision is the outcome of one evaluation of a full window.
type Decision struct {
	Triggered     bool    `json:"triggered"`
	SampleAverage float64 `json:"sample_average"`
	FullAverage   int     `json:"full_average"`
	// Count is the number of triggers so far, this one included.
	Count int `json:"count"`
}

// Detector compares the oldest slice of the window with the window as a
// whole. Once the window is full every new value produces a Decision and
// evicts the oldest value.
type Detector struct {
	window    *Window
	fraction  float64
	threshold float64
	count     int
}

func NewDetector(size int, fraction float64, threshold float64) *Detector {
	if size < 2 {
		size = DefaultWindow
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultSampleFraction
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		window:    NewWindow(size),
		fraction:  fraction,
		threshold: threshold,
	}
}

func (d *Detector) Observe(raw int) (Decision, bool) {
	d.window.Push(raw)
	if !d.window.Full() {
		return Decision{}, false
	}

	values := d.window.Values()
	sampleSize := int(float64(len(values)) * d.fraction)
	sampleAvg := mean(values[:sampleSize])
	fullAvg := int(mean(values))

	dec := Decision{
		SampleAverage: sampleAvg,
		FullAverage:   fullAvg,
	}
	if sampleAvg > float64(fullAvg)*d.threshold {
		d.count++
		dec.Triggered = true
	}
	dec.Count = d.count

	d.window.DropOldest()
	return dec, true
}

// Consume evaluates every sample and forwards decisions to fn.
func (d *Detector) Consume(ctx context.Context, in <-chan protocol.Sample, fn func(Decision)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if dec, ok := d.Observe(int(s.Record.RawEEG)); ok && fn != nil {
				fn(dec)
			}
		}
	}
}
