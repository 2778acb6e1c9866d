// Package scan turns the per-frame barcode decodes of a camera session into confirmed barcodes.
package scan

import "sync"

// DefaultThreshold is the number of consecutive identical decodes needed to confirm a barcode.
const DefaultThreshold = 3

// Filter holds the scan window of one camera session. Create one per session and drop it when
// the session ends.
type Filter struct {
	mu            sync.Mutex
	threshold     int
	window        []int64
	lastConfirmed *int64
}

// NewFilter returns a filter confirming after threshold consecutive identical decodes.
// A threshold below 1 falls back to DefaultThreshold.
func NewFilter(threshold int) *Filter {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Filter{
		threshold: threshold,
		window:    make([]int64, 0, threshold),
	}
}

// Threshold returns the confirmation threshold.
func (f *Filter) Threshold() int {
	return f.threshold
}

// Observe feeds one decoded frame. value is nil when nothing was decoded in the frame.
// It returns the confirmed barcode and true when this frame completed a run.
func (f *Filter) Observe(value *int64) (int64, bool) {
	if value == nil {
		// nil frames are transparent: they neither extend nor break a run
		return 0, false
	}
	v := *value

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lastConfirmed != nil && *f.lastConfirmed == v {
		return 0, false
	}

	if n := len(f.window); n > 0 && f.window[n-1] == v {
		f.window = append(f.window, v)
	} else {
		f.window = append(f.window[:0], v)
	}

	if len(f.window) < f.threshold {
		return 0, false
	}

	f.window = f.window[:0]
	confirmed := v
	f.lastConfirmed = &confirmed
	return v, true
}

// LastConfirmed returns the most recently confirmed barcode, if any.
func (f *Filter) LastConfirmed() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastConfirmed == nil {
		return 0, false
	}
	return *f.lastConfirmed, true
}

// Pending returns how many identical decodes are currently counted toward the next confirmation.
func (f *Filter) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.window)
}

// Release forgets the last confirmed barcode once the consumer is done with it, so the same
// barcode can be confirmed again.
func (f *Filter) Release() {
	f.mu.Lock()
	f.lastConfirmed = nil
	f.mu.Unlock()
}

// Reset clears the window and the last confirmed barcode.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.window = f.window[:0]
	f.lastConfirmed = nil
	f.mu.Unlock()
}
