// File: api/events.go
// Package api defines out-of-band channel events.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// InputShutdownEvent is emitted through Inbound.OnUserEvent when the peer
// half-closed its write side and the channel is configured to allow
// half-closure instead of closing fully.
type InputShutdownEvent struct{}
