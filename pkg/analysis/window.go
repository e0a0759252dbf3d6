// Package analysis watches the raw EEG signal for bursts of focus.
package analysis

// Window is a fixed-capacity FIFO of samples. Pushing into a full window
// evicts the oldest value.
type Window struct {
	buf   []int
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]int, capacity)}
}

func (w *Window) Push(v int) {
	if w.n == len(w.buf) {
		w.buf[w.start] = v
		w.start = (w.start + 1) % len(w.buf)
		return
	}
	w.buf[(w.start+w.n)%len(w.buf)] = v
	w.n++
}

// DropOldest removes the oldest value, if any.
func (w *Window) DropOldest() {
	if w.n == 0 {
		return
	}
	w.start = (w.start + 1) % len(w.buf)
	w.n--
}

func (w *Window) Len() int {
	return w.n
}

func (w *Window) Cap() int {
	return len(w.buf)
}

func (w *Window) Full() bool {
	return w.n == len(w.buf)
}

// Values returns a copy, oldest first.
func (w *Window) Values() []int {
	out := make([]int, w.n)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
