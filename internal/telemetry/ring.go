package telemetry

import (
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
)

// ring is a fixed-capacity FIFO buffer of samples. Pushing into a full
// ring evicts exactly the oldest sample. Not safe for concurrent use;
// the Monitor serializes access.
type ring struct {
	buf  []device.Sample
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]device.Sample, capacity)}
}

func (r *ring) push(s device.Sample) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = s
		r.size++
		return
	}

	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) latest() (device.Sample, bool) {
	if r.size == 0 {
		return device.Sample{}, false
	}

	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// snapshot returns samples ordered oldest to newest.
func (r *ring) snapshot() []device.Sample {
	out := make([]device.Sample, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}

	return out
}

// window returns samples newer than now-d, oldest first.
func (r *ring) window(d time.Duration) []device.Sample {
	cutoff := time.Now().Add(-d)
	all := r.snapshot()
	for i, s := range all {
		if s.Timestamp.After(cutoff) {
			return all[i:]
		}
	}

	return nil
}

func (r *ring) clear() {
	r.head = 0
	r.size = 0
}
