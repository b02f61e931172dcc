// File: channel/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream channel: a connecting/connected TCP socket. Owns the read loop
// and the connect state machine; the write path lives in stream_write.go.

package channel

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/internal/sock"
	"github.com/momentics/sockchan/pool"
)

// connectOp is the single outstanding connect attempt: target address,
// single-fire completion, timeout timer. Exactly one terminal transition
// (success, failure, cancellation) clears it.
type connectOp struct {
	addr  *net.TCPAddr
	done  *api.Completion
	timer *eventloop.Timer
}

// Stream is the connecting/connected stream channel.
type Stream struct {
	conn
	cfg    *Config
	pool   api.BufferPool
	sizer  api.RecvSizer
	in     api.Inbound
	out    *outbound
	parent *Listener

	pending        *connectOp
	inputShutdown  bool
	outputShutdown bool
	closeDone      *api.Completion
	writeObs       func(int64)
}

// NewStream creates a stream channel with a fresh IPv4 non-blocking socket.
func NewStream(cfg *Config, bufPool api.BufferPool, in api.Inbound) (*Stream, error) {
	return NewStreamFor(nil, cfg, bufPool, in)
}

// NewStreamFor creates a stream channel with a fresh non-blocking socket of
// remote's address family. A nil remote yields IPv4.
func NewStreamFor(remote *net.TCPAddr, cfg *Config, bufPool api.BufferPool, in api.Inbound) (*Stream, error) {
	fd, err := sock.Socket(remote)
	if err != nil {
		return nil, err
	}
	s := newStream(fd, cfg, bufPool, in)
	return s, nil
}

// newAcceptedStream wraps an already-connected descriptor handed out by a
// listening channel's accept loop. The inbound sink is attached later by
// whoever receives the channel.
func newAcceptedStream(parent *Listener, fd int, cfg *Config, bufPool api.BufferPool) *Stream {
	s := newStream(fd, cfg, bufPool, nil)
	s.parent = parent
	s.active = true
	s.log = parent.log
	return s
}

func newStream(fd int, cfg *Config, bufPool api.BufferPool, in api.Inbound) *Stream {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Stream{
		cfg:       cfg,
		pool:      bufPool,
		in:        in,
		out:       newOutbound(),
		closeDone: api.NewCompletion(),
	}
	s.fd = fd
	s.flags = eventloop.InterestRead
	s.log = zerolog.Nop()
	s.sizer = pool.NewAdaptiveSizer(cfg.ReadBufferMin, cfg.ReadBufferInitial, cfg.ReadBufferMax)
	return s
}

// SetInbound attaches the consuming sink. Must happen before the channel is
// registered with a loop.
func (s *Stream) SetInbound(in api.Inbound) { s.in = in }

// SetSizer overrides the adaptive receive sizer.
func (s *Stream) SetSizer(sizer api.RecvSizer) { s.sizer = sizer }

// SetLogger installs a structured logger.
func (s *Stream) SetLogger(log zerolog.Logger) { s.log = log }

// SetWriteObserver installs a callback invoked with the byte count of every
// successful write syscall, for accounting. Must be set before registration.
func (s *Stream) SetWriteObserver(fn func(int64)) { s.writeObs = fn }

// Parent returns the listening channel that accepted this stream, nil for
// client-created streams.
func (s *Stream) Parent() *Listener { return s.parent }

// CloseDone returns a completion resolved once the channel has fully
// closed. Useful for registries tracking channel lifetime.
func (s *Stream) CloseDone() *api.Completion { return s.closeDone }

// IsInputShutdown reports whether the peer half-closed toward us.
func (s *Stream) IsInputShutdown() bool { return s.inputShutdown }

// IsOutputShutdown reports whether our write half is shut down.
func (s *Stream) IsOutputShutdown() bool { return s.outputShutdown || !s.IsActive() }

// BeginRead re-arms read interest after a flow-controlled pass (AutoRead
// disabled) cleared it, marshalled onto the owning loop. No-op once the
// input side shut down or the channel closed.
func (s *Stream) BeginRead() {
	run := func() {
		if !s.IsOpen() || s.inputShutdown {
			return
		}
		s.beginRead()
	}
	if s.loop == nil {
		run()
		return
	}
	s.loop.Execute(run)
}

// RegisterTo binds the channel to loop and adds its descriptor to the
// readiness set with the default read interest.
func (s *Stream) RegisterTo(loop *eventloop.Loop) error {
	if s.in == nil {
		return fmt.Errorf("register: inbound sink not attached")
	}
	if err := s.attach(loop, s); err != nil {
		return err
	}
	return loop.Register(s)
}

// Bind binds the socket to local before connecting.
func (s *Stream) Bind(local *net.TCPAddr) error {
	if !s.IsOpen() {
		return api.ErrChannelClosed
	}
	if s.cfg.ReuseAddr {
		if err := sock.SetReuseAddr(s.fd); err != nil {
			return err
		}
	}
	return sock.Bind(s.fd, local)
}

// Connect starts a non-blocking connect to remote, optionally binding to
// local first. The returned completion resolves exactly once: success,
// failure, or cancellation. Cancelling it tears the channel down.
func (s *Stream) Connect(remote, local *net.TCPAddr) *api.Completion {
	done := api.NewCompletion()
	if s.loop == nil {
		done.TryFailure(fmt.Errorf("connect: channel not registered"))
		return done
	}
	s.loop.Execute(func() { s.connectInLoop(remote, local, done) })
	return done
}

func (s *Stream) connectInLoop(remote, local *net.TCPAddr, done *api.Completion) {
	if s.pending != nil {
		done.TryFailure(api.ErrConnectPending)
		return
	}
	if !s.IsOpen() {
		done.TryFailure(api.ErrChannelClosed)
		return
	}
	wasActive := s.IsActive()
	connected, err := s.doConnect(remote, local)
	if err != nil {
		done.TryFailure(&api.ConnectError{Addr: remote, Err: err})
		s.closeInLoop()
		return
	}
	if connected {
		s.active = true
		done.TrySuccess()
		if !wasActive {
			s.in.OnActive()
		}
		return
	}

	op := &connectOp{addr: remote, done: done}
	s.pending = op
	if timeout := s.cfg.ConnectTimeout; timeout > 0 {
		op.timer = s.loop.Schedule(timeout, func() {
			cur := s.pending
			if cur == nil || cur.done != done {
				return
			}
			if done.TryFailure(&api.ConnectTimeoutError{Addr: cur.addr}) {
				s.closeInLoop()
			}
		})
	}
	done.OnComplete(func(c *api.Completion) {
		if !c.Cancelled() {
			return
		}
		s.loop.Execute(func() {
			if s.pending != nil && s.pending.done == c {
				if s.pending.timer != nil {
					s.pending.timer.Cancel()
				}
				s.pending = nil
				s.closeInLoop()
			}
		})
	})
}

func (s *Stream) doConnect(remote, local *net.TCPAddr) (bool, error) {
	if local != nil {
		if err := s.Bind(local); err != nil {
			return false, err
		}
	}
	connected, err := sock.Connect(s.fd, remote)
	if err != nil {
		return false, err
	}
	if !connected {
		// The socket turns writable once the attempt resolves.
		s.setWriteInterest()
	}
	return connected, nil
}

// finishConnect resolves a pending connect once the socket reports
// writable. Cleanup of the timer and the pending reference happens exactly
// once, whichever branch ran.
func (s *Stream) finishConnect() {
	op := s.pending
	if op == nil {
		return
	}
	defer func() {
		if op.timer != nil {
			op.timer.Cancel()
		}
		s.pending = nil
	}()

	wasActive := s.IsActive()
	if err := sock.FinishConnect(s.fd); err != nil {
		op.done.TryFailure(&api.ConnectError{Addr: op.addr, Err: err})
		s.closeInLoop()
		return
	}
	s.clearWriteInterest()
	s.active = true
	op.done.TrySuccess()
	if !wasActive {
		s.in.OnActive()
	}
}

// ReadReady runs one read pass: adaptively sized buffers are filled with
// non-blocking reads and emitted downstream until the socket drains, hits
// EOF, or errors.
func (s *Stream) ReadReady() {
	if !s.IsOpen() {
		return
	}
	if !s.cfg.AutoRead {
		s.clearReadInterest()
	}

	closeOnRead := false
	total := 0
	for {
		buf := s.pool.Get(s.sizer.Guess())
		spare := buf.Writable()
		res, err := sock.Read(s.fd, spare)
		if err != nil {
			s.handleReadError(buf, err)
			return
		}
		if res.Again || res.EOF {
			buf.Release()
			closeOnRead = res.EOF
			break
		}
		buf.Commit(res.N)
		total += res.N
		s.in.OnDataReceived(buf)
		if res.N < len(spare) {
			// Read less than the buffer could hold: the socket's receive
			// buffer is presumed drained.
			break
		}
	}

	s.in.OnReadComplete()
	s.sizer.Record(total)
	if closeOnRead {
		s.closeOnRead()
	}
}

// closeOnRead handles end-of-stream: half-close when permitted, full close
// otherwise.
func (s *Stream) closeOnRead() {
	s.inputShutdown = true
	if !s.IsOpen() {
		return
	}
	if s.cfg.AllowHalfClosure {
		s.clearReadInterest()
		s.in.OnUserEvent(api.InputShutdownEvent{})
	} else {
		s.closeInLoop()
	}
}

// handleReadError emits a partially-filled buffer if it holds data,
// completes the pass, surfaces the error, and closes: a failed read syscall
// means the connection is unusable.
func (s *Stream) handleReadError(buf api.Buffer, cause error) {
	if buf != nil {
		if buf.Len() > 0 {
			s.in.OnDataReceived(buf)
		} else {
			buf.Release()
		}
	}
	s.in.OnReadComplete()
	s.in.OnExceptionCaught(cause)
	s.closeOnRead()
}

// ShutdownOutput shuts the write half down, marshalled onto the owning loop
// when called from outside it.
func (s *Stream) ShutdownOutput() *api.Completion {
	done := api.NewCompletion()
	run := func() {
		if !s.IsOpen() {
			done.TryFailure(api.ErrChannelClosed)
			return
		}
		if err := sock.Shutdown(s.fd, false, true); err != nil {
			done.TryFailure(err)
			return
		}
		s.outputShutdown = true
		done.TrySuccess()
	}
	if s.loop == nil {
		run()
	} else {
		s.loop.Execute(run)
	}
	return done
}

// Close releases the descriptor, fails any pending connect and queued
// writes, and deregisters from the loop. Idempotent.
func (s *Stream) Close() error {
	if s.loop == nil {
		s.closeInLoop()
		return nil
	}
	s.loop.Execute(s.closeInLoop)
	return nil
}

func (s *Stream) closeInLoop() {
	if !s.IsOpen() {
		return
	}
	if op := s.pending; op != nil {
		if op.timer != nil {
			op.timer.Cancel()
		}
		s.pending = nil
		op.done.TryFailure(api.ErrChannelClosed)
	}
	s.out.failAll(api.ErrChannelClosed)
	s.closeDescriptor()
	s.closeDone.TrySuccess()
}
