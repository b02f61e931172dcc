// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared descriptor lifecycle and interest-flag helpers embedded by the
// stream and listening channel kinds.
//
// Invariants: IsOpen() == (fd != -1); IsActive() implies IsOpen(); the
// descriptor is owned exclusively by the channel and released exactly once.
// The in-process interest mask always matches the reactor's view because it
// is only mutated through the helpers below, which push every bit
// transition to the loop.

package channel

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/internal/sock"
)

// conn is the channel base: descriptor, interest flags, loop binding.
// All mutation happens on the owning loop goroutine.
type conn struct {
	fd     int
	flags  eventloop.Interest
	active bool
	loop   *eventloop.Loop
	self   eventloop.Channel
	log    zerolog.Logger
}

// FD returns the descriptor, -1 once closed.
func (c *conn) FD() int { return c.fd }

// Interest returns the current interest mask.
func (c *conn) Interest() eventloop.Interest { return c.flags }

// IsOpen reports whether the descriptor is valid.
func (c *conn) IsOpen() bool { return c.fd != -1 }

// IsActive reports whether the channel is connected or listening.
func (c *conn) IsActive() bool { return c.active }

// LocalAddr queries the bound local address, nil when unavailable.
func (c *conn) LocalAddr() *net.TCPAddr {
	if c.fd == -1 {
		return nil
	}
	addr, err := sock.LocalAddr(c.fd)
	if err != nil {
		return nil
	}
	return addr
}

// RemoteAddr queries the peer address, nil when unavailable.
func (c *conn) RemoteAddr() *net.TCPAddr {
	if c.fd == -1 {
		return nil
	}
	addr, err := sock.RemoteAddr(c.fd)
	if err != nil {
		return nil
	}
	return addr
}

// attach binds the channel to its owning loop after checking the loop's
// native flavor. Re-binding to another loop is not supported.
func (c *conn) attach(loop *eventloop.Loop, self eventloop.Channel) error {
	if loop.Kind() != eventloop.KindEpoll {
		return api.ErrIncompatibleLoop
	}
	if c.loop != nil {
		return api.ErrIncompatibleLoop
	}
	c.loop = loop
	c.self = self
	return nil
}

// beginRead arms read interest; no-op when already armed.
func (c *conn) beginRead() {
	if c.flags&eventloop.InterestRead == 0 {
		c.flags |= eventloop.InterestRead
		c.modify()
	}
}

// clearReadInterest disarms read interest (flow control / half-close).
func (c *conn) clearReadInterest() {
	if c.flags&eventloop.InterestRead != 0 {
		c.flags &^= eventloop.InterestRead
		c.modify()
	}
}

// setWriteInterest arms write interest after a partial write or pending
// connect; the loop will call back when the socket is writable.
func (c *conn) setWriteInterest() {
	if c.flags&eventloop.InterestWrite == 0 {
		c.flags |= eventloop.InterestWrite
		c.modify()
	}
}

// clearWriteInterest disarms write interest once the queue drains.
func (c *conn) clearWriteInterest() {
	if c.flags&eventloop.InterestWrite != 0 {
		c.flags &^= eventloop.InterestWrite
		c.modify()
	}
}

// writePending reports whether a flush is already owed to the loop.
func (c *conn) writePending() bool {
	return c.flags&eventloop.InterestWrite != 0
}

func (c *conn) modify() {
	if c.loop == nil || c.fd == -1 {
		return
	}
	if err := c.loop.Modify(c.self); err != nil {
		c.log.Error().Err(err).Int("fd", c.fd).Msg("modify interest failed")
	}
}

// closeDescriptor marks the channel inactive, deregisters it and releases
// the descriptor exactly once. Failures are best-effort: close never blocks
// progress.
func (c *conn) closeDescriptor() {
	if c.fd == -1 {
		return
	}
	c.active = false
	if c.loop != nil {
		if err := c.loop.Deregister(c.self); err != nil {
			c.log.Debug().Err(err).Int("fd", c.fd).Msg("deregister on close")
		}
	}
	fd := c.fd
	c.fd = -1
	c.flags = 0
	if err := sock.Close(fd); err != nil {
		c.log.Debug().Err(err).Int("fd", fd).Msg("close descriptor")
	}
}
