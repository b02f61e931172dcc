// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound write queue: strict FIFO of pending byte payloads and file
// regions with partial-consumption tracking. Items are drained in
// submission order and removed only once fully consumed; partial writes
// advance the head item's cursor, never reorder.

package channel

import (
	"github.com/eapache/queue"

	"github.com/momentics/sockchan/api"
)

// FileRegion describes a sendfile-style transfer: Remaining bytes from FD
// starting at Offset. Offset advances as the kernel consumes the region.
type FileRegion struct {
	FD        int
	Offset    int64
	Remaining int64
}

// pendingWrite is one queued write request: either a byte payload or a
// file region, never both.
type pendingWrite struct {
	buf    api.Buffer
	region *FileRegion
	done   *api.Completion
}

func (w *pendingWrite) remaining() int64 {
	if w.region != nil {
		return w.region.Remaining
	}
	return int64(w.buf.Len())
}

func (w *pendingWrite) consume(n int64) {
	if w.region != nil {
		w.region.Remaining -= n
		return
	}
	w.buf.Advance(int(n))
}

func (w *pendingWrite) release() {
	if w.buf != nil {
		w.buf.Release()
		w.buf = nil
	}
}

// outbound is the FIFO write queue. Only the owning loop goroutine touches it.
type outbound struct {
	q *queue.Queue
}

func newOutbound() *outbound {
	return &outbound{q: queue.New()}
}

func (o *outbound) addBuffer(buf api.Buffer, done *api.Completion) {
	o.q.Add(&pendingWrite{buf: buf, done: done})
}

func (o *outbound) addRegion(region *FileRegion, done *api.Completion) {
	o.q.Add(&pendingWrite{region: region, done: done})
}

func (o *outbound) size() int     { return o.q.Length() }
func (o *outbound) isEmpty() bool { return o.q.Length() == 0 }

func (o *outbound) head() *pendingWrite {
	return o.q.Peek().(*pendingWrite)
}

// maxGatherViews bounds one vectored write to IOV_MAX iovecs; writev fails
// EINVAL past that. The remainder drains on the next flush iteration.
const maxGatherViews = 1024

// gatherViews builds the scatter/gather list spanning the queued byte
// payloads, at most maxGatherViews per call. Returns nil views when a file
// region is queued ahead of the cap: regions cannot join a vectored write.
func (o *outbound) gatherViews() (views [][]byte, total int64) {
	n := o.q.Length()
	if n > maxGatherViews {
		n = maxGatherViews
	}
	views = make([][]byte, 0, n)
	for i := 0; i < n && len(views) < maxGatherViews; i++ {
		item := o.q.Get(i).(*pendingWrite)
		if item.region != nil {
			return nil, 0
		}
		b := item.buf.Bytes()
		if len(b) == 0 {
			continue
		}
		views = append(views, b)
		total += int64(len(b))
	}
	return views, total
}

// didWrite accounts n written bytes against the queue head onward:
// fully-consumed items are completed and removed in order, the first
// not-fully-consumed item has its cursor advanced, and zero-length items
// are swept regardless of n. Each removal fires that item's completion
// exactly once, with progress reported for every consumed byte.
func (o *outbound) didWrite(n int64) {
	for o.q.Length() > 0 {
		item := o.head()
		remaining := item.remaining()
		if remaining == 0 {
			o.q.Remove()
			item.release()
			item.done.TrySuccess()
			continue
		}
		if n <= 0 {
			return
		}
		if remaining <= n {
			n -= remaining
			item.consume(remaining)
			item.done.ReportProgress(remaining)
			o.q.Remove()
			item.release()
			item.done.TrySuccess()
			continue
		}
		item.consume(n)
		item.done.ReportProgress(n)
		return
	}
}

// failHead fails the head item with cause and removes it.
func (o *outbound) failHead(cause error) {
	if o.q.Length() == 0 {
		return
	}
	item := o.q.Remove().(*pendingWrite)
	item.release()
	item.done.TryFailure(cause)
}

// failAll fails every queued item with cause. No write is silently dropped.
func (o *outbound) failAll(cause error) {
	for o.q.Length() > 0 {
		item := o.q.Remove().(*pendingWrite)
		item.release()
		item.done.TryFailure(cause)
	}
}
