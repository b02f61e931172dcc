// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for sockchan.
//
// Taxonomy: IO errors (syscall failures, wrapped with %w) close the channel
// on the read path; connect errors carry the target address for diagnostics;
// protocol-misuse errors (duplicate connect, write on a listener) fail fast
// and are never retried.

package api

import (
	"fmt"
	"net"
)

// Sentinel errors used across the library.
var (
	ErrChannelClosed    = fmt.Errorf("channel is closed")
	ErrConnectPending   = fmt.Errorf("connection attempt already made")
	ErrIncompatibleLoop = fmt.Errorf("event loop kind incompatible with channel")
	ErrUnsupported      = fmt.Errorf("operation not supported")
	ErrCancelled        = fmt.Errorf("operation cancelled")
	ErrCompletionFailed = fmt.Errorf("operation failed")
)

// ConnectTimeoutError is raised by the connect timeout timer.
type ConnectTimeoutError struct {
	Addr *net.TCPAddr
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connection timed out: %v", e.Addr)
}

// ConnectError wraps an underlying connect failure with the target address.
type ConnectError struct {
	Addr *net.TCPAddr
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %v: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
