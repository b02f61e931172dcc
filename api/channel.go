// File: api/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// Channel is the minimal surface every socket channel kind exposes.
// Concrete types add kind-specific operations (write, flush, connect,
// shutdown-output, bind) on top.
type Channel interface {
	// LocalAddr returns the bound local address, or nil before bind.
	LocalAddr() *net.TCPAddr

	// RemoteAddr returns the peer address, or nil when not connected.
	RemoteAddr() *net.TCPAddr

	// IsActive reports whether the channel is connected or bound-listening.
	IsActive() bool

	// IsOpen reports whether the descriptor is still valid.
	IsOpen() bool

	// Close releases the descriptor and deregisters from the event loop.
	// Idempotent; never fails on close-time syscall errors.
	Close() error
}
