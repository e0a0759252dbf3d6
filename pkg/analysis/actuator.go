package analysis

import (
	"fmt"
	"io"
)

// Actuator writes ON for a triggered decision and OFF otherwise.
type Actuator struct {
	w io.Writer
}

func NewActuator(w io.Writer) *Actuator {
	return &Actuator{w: w}
}

func (a *Actuator) Apply(dec Decision) error {
	cmd := "OFF"
	if dec.Triggered {
		cmd = "ON"
	}
	if _, err := io.WriteString(a.w, cmd); err != nil {
		return fmt.Errorf("actuator write %s: %w", cmd, err)
	}
	return nil
}
