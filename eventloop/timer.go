// File: eventloop/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Min-heap timer queue; entries are removed lazily on fire.

package eventloop

import (
	"sync/atomic"
	"time"
)

// Timer is a scheduled callback. Cancel may race with firing: whichever
// happens first wins, the loser is a no-op.
type Timer struct {
	when      time.Time
	seq       uint64
	fn        func()
	cancelled atomic.Bool
}

// Cancel prevents the timer from firing. Safe from any goroutine and
// idempotent.
func (t *Timer) Cancel() {
	t.cancelled.Store(true)
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*Timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
