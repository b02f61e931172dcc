//go:build !linux

// File: eventloop/poller_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Placeholder for platforms without a native poller implementation.

package eventloop

import "errors"

type pollEvent struct {
	fd       int
	readable bool
	writable bool
}

type poller interface {
	Add(fd int, interest Interest) error
	Mod(fd int, interest Interest) error
	Del(fd int) error
	Wait(events []pollEvent, timeoutMs int) (int, error)
	Wake()
	Close() error
}

func newPoller() (poller, Kind, error) {
	return nil, KindStub, errors.New("eventloop: no poller for this platform")
}
