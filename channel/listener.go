// File: channel/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening channel: bound/listening socket with an accept loop. Has no
// write path and no connect support; each accepted descriptor is wrapped
// into a stream channel and emitted downstream immediately, one emission
// per accept.

package channel

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/internal/sock"
)

// Listener is the listening channel.
type Listener struct {
	conn
	cfg      *Config
	childCfg *Config
	pool     api.BufferPool
	in       api.Inbound
	bound    *net.TCPAddr
}

// NewListener creates a listening channel with a fresh IPv4 socket.
func NewListener(cfg *Config, bufPool api.BufferPool, in api.Inbound) (*Listener, error) {
	return NewListenerFor(nil, cfg, bufPool, in)
}

// NewListenerFor creates a listening channel with a socket of local's
// address family. A nil local yields IPv4.
func NewListenerFor(local *net.TCPAddr, cfg *Config, bufPool api.BufferPool, in api.Inbound) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	fd, err := sock.Socket(local)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		cfg:      cfg,
		childCfg: cfg,
		pool:     bufPool,
		in:       in,
	}
	l.fd = fd
	l.flags = eventloop.InterestRead
	l.log = zerolog.Nop()
	return l, nil
}

// SetChildConfig overrides the configuration handed to accepted streams.
func (l *Listener) SetChildConfig(cfg *Config) { l.childCfg = cfg }

// SetLogger installs a structured logger.
func (l *Listener) SetLogger(log zerolog.Logger) { l.log = log }

// BeginRead re-arms read interest after a flow-controlled accept pass
// (AutoRead disabled) cleared it, marshalled onto the owning loop.
func (l *Listener) BeginRead() {
	run := func() {
		if !l.IsOpen() {
			return
		}
		l.beginRead()
	}
	if l.loop == nil {
		run()
		return
	}
	l.loop.Execute(run)
}

// RegisterTo binds the channel to loop and adds its descriptor to the
// readiness set.
func (l *Listener) RegisterTo(loop *eventloop.Loop) error {
	if err := l.attach(loop, l); err != nil {
		return err
	}
	return loop.Register(l)
}

// Bind binds the socket to local and starts listening. The channel turns
// active on success.
func (l *Listener) Bind(local *net.TCPAddr) error {
	if !l.IsOpen() {
		return api.ErrChannelClosed
	}
	if l.cfg.ReuseAddr {
		if err := sock.SetReuseAddr(l.fd); err != nil {
			return err
		}
	}
	if err := sock.Bind(l.fd, local); err != nil {
		return err
	}
	if err := sock.Listen(l.fd, l.cfg.Backlog); err != nil {
		return err
	}
	addr, err := sock.LocalAddr(l.fd)
	if err != nil {
		return err
	}
	l.bound = addr
	wasActive := l.active
	l.active = true
	if !wasActive {
		l.in.OnActive()
	}
	return nil
}

// LocalAddr returns the bound address.
func (l *Listener) LocalAddr() *net.TCPAddr { return l.bound }

// RemoteAddr is always nil for a listening channel.
func (l *Listener) RemoteAddr() *net.TCPAddr { return nil }

// ReadReady runs one accept pass: non-blocking accepts until no connection
// is pending. Each accepted descriptor is wrapped and emitted immediately
// so back-to-back accepts under load dispatch without delay. An exception
// is captured and surfaced after the pass, after the read-complete event.
func (l *Listener) ReadReady() {
	if !l.IsOpen() {
		return
	}
	if !l.cfg.AutoRead {
		l.clearReadInterest()
	}

	var caught error
	for {
		nfd, ok, err := sock.Accept(l.fd)
		if err != nil {
			caught = err
			break
		}
		if !ok {
			break
		}
		child := newAcceptedStream(l, nfd, l.childCfg, l.pool)
		l.in.OnAccepted(child)
	}

	l.in.OnReadComplete()
	if caught != nil {
		l.in.OnExceptionCaught(caught)
	}
}

// WriteReady is never meaningful for a listening channel.
func (l *Listener) WriteReady() {}

// Write always fails: a listening channel has no write path.
func (l *Listener) Write(buf api.Buffer) *api.Completion {
	buf.Release()
	done := api.NewCompletion()
	done.TryFailure(api.ErrUnsupported)
	return done
}

// Connect always fails: a listening channel cannot connect.
func (l *Listener) Connect(remote, local *net.TCPAddr) *api.Completion {
	done := api.NewCompletion()
	done.TryFailure(api.ErrUnsupported)
	return done
}

// Close releases the listening descriptor and deregisters. Idempotent.
func (l *Listener) Close() error {
	run := func() {
		l.bound = nil
		l.closeDescriptor()
	}
	if l.loop == nil {
		run()
		return nil
	}
	l.loop.Execute(run)
	return nil
}
