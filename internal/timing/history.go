package timing

import "time"

// history is a fixed-capacity ring of durations. Once full, each new sample
// replaces the oldest one.
type history struct {
	samples []time.Duration
	next    int
	full    bool
}

func newHistory(capacity int) *history {
	return &history{samples: make([]time.Duration, 0, capacity)}
}

func (h *history) add(d time.Duration) {
	if !h.full && len(h.samples) < cap(h.samples) {
		h.samples = append(h.samples, d)
		if len(h.samples) == cap(h.samples) {
			h.full = true
		}
		return
	}
	h.samples[h.next] = d
	h.next = (h.next + 1) % len(h.samples)
}

func (h *history) len() int {
	return len(h.samples)
}

// values returns samples oldest first.
func (h *history) values() []time.Duration {
	out := make([]time.Duration, 0, len(h.samples))
	if !h.full {
		return append(out, h.samples...)
	}
	out = append(out, h.samples[h.next:]...)
	return append(out, h.samples[:h.next]...)
}

func (h *history) stat() Stat {
	st := Stat{Count: len(h.samples)}
	if st.Count == 0 {
		return st
	}
	var total time.Duration
	st.Min, st.Max = h.samples[0], h.samples[0]
	for _, d := range h.samples {
		total += d
		st.Min = min(st.Min, d)
		st.Max = max(st.Max, d)
	}
	st.Avg = total / time.Duration(st.Count)
	return st
}
