// File: channel/stream_write.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream channel write path. Drains the outbound queue until it empties or
// a write would block; multiple queued byte payloads coalesce into one
// scatter/gather syscall, which amortizes syscall overhead while keeping
// strict in-order draining.

package channel

import (
	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/internal/sock"
)

// Write enqueues buf for transmission. Ownership of buf transfers to the
// channel. The returned completion resolves when the payload is fully
// written or the write fails; partial progress is observable via
// Completion.SetProgress.
func (s *Stream) Write(buf api.Buffer) *api.Completion {
	done := api.NewCompletion()
	if s.loop == nil {
		buf.Release()
		done.TryFailure(api.ErrChannelClosed)
		return done
	}
	s.loop.Execute(func() {
		if !s.IsOpen() {
			buf.Release()
			done.TryFailure(api.ErrChannelClosed)
			return
		}
		s.out.addBuffer(buf, done)
	})
	return done
}

// WriteRegion enqueues a file-region transfer.
func (s *Stream) WriteRegion(region *FileRegion) *api.Completion {
	done := api.NewCompletion()
	if s.loop == nil {
		done.TryFailure(api.ErrChannelClosed)
		return done
	}
	s.loop.Execute(func() {
		if !s.IsOpen() {
			done.TryFailure(api.ErrChannelClosed)
			return
		}
		s.out.addRegion(region, done)
	})
	return done
}

// Flush drains the outbound queue now, unless a flush is already owed to
// the loop (write interest armed): in that case the writable callback will
// pick the new items up, preserving order.
func (s *Stream) Flush() {
	if s.loop == nil {
		return
	}
	s.loop.Execute(func() {
		if s.writePending() {
			return
		}
		s.flushNow()
	})
}

// WriteReady is the writable readiness callback. While a connect attempt
// is outstanding it means "finish connect", not "flush".
func (s *Stream) WriteReady() {
	if s.pending != nil {
		s.finishConnect()
		return
	}
	s.flushNow()
}

func (s *Stream) flushNow() {
	if !s.IsOpen() {
		s.out.failAll(api.ErrChannelClosed)
		return
	}
	for {
		n := s.out.size()
		if n == 0 {
			// Backpressure relieved.
			s.clearWriteInterest()
			return
		}

		if n > 1 {
			if views, total := s.out.gatherViews(); views != nil {
				if len(views) == 0 {
					// Only zero-length payloads queued; sweep them.
					s.out.didWrite(0)
					continue
				}
				res, err := sock.Writev(s.fd, views)
				if err != nil {
					s.handleWriteError(err)
					return
				}
				if res.Again {
					s.setWriteInterest()
					return
				}
				s.observeWrite(res.N)
				s.out.didWrite(int64(res.N))
				if int64(res.N) < total {
					s.setWriteInterest()
					return
				}
				// Fully drained this batch; loop again, a flush may have
				// queued more in the meantime.
				continue
			}
		}

		// Single item, or a file region is queued.
		item := s.out.head()
		remaining := item.remaining()
		if remaining == 0 {
			s.out.didWrite(0)
			continue
		}

		var res sock.IOResult
		var err error
		if item.region != nil {
			res, err = sock.Sendfile(s.fd, item.region.FD, &item.region.Offset, remaining)
		} else {
			res, err = sock.Write(s.fd, item.buf.Bytes())
		}
		if err != nil {
			s.handleWriteError(err)
			return
		}
		if res.Again {
			s.setWriteInterest()
			return
		}
		s.observeWrite(res.N)
		s.out.didWrite(int64(res.N))
		if int64(res.N) < remaining {
			s.setWriteInterest()
			return
		}
	}
}

func (s *Stream) observeWrite(n int) {
	if s.writeObs != nil && n > 0 {
		s.writeObs(int64(n))
	}
}

// handleWriteError fails the head request with the cause, surfaces the
// error downstream and closes: a failed write syscall on a stream socket
// leaves the descriptor unusable, and the remaining queued writes fail as
// channel-closed during teardown.
func (s *Stream) handleWriteError(cause error) {
	s.out.failHead(cause)
	s.in.OnExceptionCaught(cause)
	s.closeInLoop()
}
