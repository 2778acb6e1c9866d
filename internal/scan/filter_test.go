package scan

import (
	"sync"
	"testing"
)

func v(n int64) *int64 { return &n }

func feed(f *Filter, frames []*int64) []int64 {
	var out []int64
	for _, fr := range frames {
		if code, ok := f.Observe(fr); ok {
			out = append(out, code)
		}
	}
	return out
}

func TestFilterSequences(t *testing.T) {
	cases := []struct {
		name      string
		threshold int
		frames    []*int64
		want      []int64
	}{
		{"exact run confirms once", 3, []*int64{v(1), v(1), v(1)}, []int64{1}},
		{"different value resets run", 3, []*int64{v(1), v(1), v(2), v(1), v(1), v(1)}, []int64{1}},
		{"below threshold", 3, []*int64{v(1), v(1)}, nil},
		{"nil frames are transparent", 3, []*int64{v(1), nil, v(1), v(1)}, []int64{1}},
		{"only nil frames", 3, []*int64{nil, nil, nil, nil}, nil},
		{"long run confirms once while last confirmed", 3, []*int64{v(7), v(7), v(7), v(7), v(7), v(7), v(7)}, []int64{7}},
		{"two values confirm in turn", 2, []*int64{v(1), v(1), v(2), v(2)}, []int64{1, 2}},
		{"threshold one confirms on first decode", 1, []*int64{v(5), v(5), v(6)}, []int64{5, 6}},
		{"threshold zero uses default", 0, []*int64{v(9), v(9), v(9)}, []int64{9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := feed(NewFilter(tc.threshold), tc.frames)
			if len(got) != len(tc.want) {
				t.Fatalf("confirmations: want=%v got=%v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("confirmation %d: want=%d got=%d", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestFilterLastConfirmedGuard(t *testing.T) {
	f := NewFilter(3)
	if got := feed(f, []*int64{v(1), v(1), v(1)}); len(got) != 1 {
		t.Fatalf("first run: want one confirmation, got=%v", got)
	}
	if last, ok := f.LastConfirmed(); !ok || last != 1 {
		t.Fatalf("LastConfirmed: want=1 got=%d ok=%v", last, ok)
	}

	if _, ok := f.Observe(v(1)); ok {
		t.Fatalf("Observe: re-confirmed the last confirmed value")
	}
	if f.Pending() != 0 {
		t.Fatalf("Pending: want=0 got=%d", f.Pending())
	}

	// a different value in between does not lift the guard by itself
	if got := feed(f, []*int64{v(2), v(1), v(1), v(1)}); len(got) != 0 {
		t.Fatalf("guarded value confirmed: %v", got)
	}
}

func TestFilterReleaseAllowsReconfirmation(t *testing.T) {
	f := NewFilter(3)
	feed(f, []*int64{v(4), v(4), v(4)})
	f.Release()

	if _, ok := f.LastConfirmed(); ok {
		t.Fatalf("LastConfirmed: expected none after Release")
	}
	if got := feed(f, []*int64{v(4), v(4), v(4)}); len(got) != 1 || got[0] != 4 {
		t.Fatalf("after Release: want=[4] got=%v", got)
	}
}

func TestFilterWindowNeverExceedsThreshold(t *testing.T) {
	f := NewFilter(3)
	frames := []*int64{v(1), v(1), v(2), v(2), v(2), v(3), nil, v(3), v(1)}
	for i, fr := range frames {
		f.Observe(fr)
		if p := f.Pending(); p > f.Threshold() {
			t.Fatalf("frame %d: window=%d exceeds threshold=%d", i, p, f.Threshold())
		}
	}
}

func TestFilterReset(t *testing.T) {
	f := NewFilter(3)
	feed(f, []*int64{v(1), v(1), v(1), v(2), v(2)})
	f.Reset()
	if f.Pending() != 0 {
		t.Fatalf("Pending: want=0 got=%d", f.Pending())
	}
	if _, ok := f.LastConfirmed(); ok {
		t.Fatalf("LastConfirmed: expected none after Reset")
	}
}

func TestFilterConcurrentObserve(t *testing.T) {
	f := NewFilter(3)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 30; j++ {
				if _, ok := f.Observe(v(11)); ok {
					mu.Lock()
					count++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if count != 1 {
		t.Fatalf("confirmations: want=1 got=%d", count)
	}
}
