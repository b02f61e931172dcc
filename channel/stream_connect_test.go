//go:build linux

// File: channel/stream_connect_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/internal/sock"
	"github.com/momentics/sockchan/pool"
)

// activeSink signals the first activation.
type activeSink struct {
	api.NopInbound
	activations atomic.Int64
	active      chan struct{}
}

func newActiveSink() *activeSink {
	return &activeSink{active: make(chan struct{}, 1)}
}

func (s *activeSink) OnActive() {
	if s.activations.Add(1) == 1 {
		s.active <- struct{}{}
	}
}

func runLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

// saturatedAddr returns a listening address whose accept queue is full, so
// further connection attempts stay in progress indefinitely.
func saturatedAddr(t *testing.T) *net.TCPAddr {
	t.Helper()
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	fd, err := sock.Socket(local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close(fd) })
	require.NoError(t, sock.Bind(fd, local))
	require.NoError(t, sock.Listen(fd, 1))
	addr, err := sock.LocalAddr(fd)
	require.NoError(t, err)

	saturated := false
	for i := 0; i < 16; i++ {
		c, derr := net.DialTimeout("tcp", addr.String(), 250*time.Millisecond)
		if derr != nil {
			saturated = true
			break
		}
		t.Cleanup(func() { _ = c.Close() })
	}
	require.True(t, saturated, "accept queue never filled")
	return addr
}

func registeredStream(t *testing.T, loop *eventloop.Loop, cfg *Config, sink api.Inbound) *Stream {
	t.Helper()
	s, err := NewStream(cfg, pool.NewPool(), sink)
	require.NoError(t, err)
	require.NoError(t, s.RegisterTo(loop))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnectSucceedsAndActivates(t *testing.T) {
	loop := runLoop(t)
	sink := newActiveSink()

	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	l, err := NewListenerFor(local, nil, pool.NewPool(), &acceptRecorder{})
	require.NoError(t, err)
	require.NoError(t, l.RegisterTo(loop))
	require.NoError(t, l.Bind(local))
	t.Cleanup(func() { _ = l.Close() })

	s := registeredStream(t, loop, nil, sink)
	done := s.Connect(l.LocalAddr(), nil)

	select {
	case <-done.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connect never resolved")
	}
	require.NoError(t, done.Err())

	select {
	case <-sink.active:
	case <-time.After(2 * time.Second):
		t.Fatal("activation never signalled")
	}
	assert.Equal(t, int64(1), sink.activations.Load())
	assert.True(t, s.IsActive())
	assert.NotNil(t, s.RemoteAddr())
}

func TestConnectRejectsSecondAttemptWhilePending(t *testing.T) {
	loop := runLoop(t)
	addr := saturatedAddr(t)

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 0
	s := registeredStream(t, loop, cfg, newActiveSink())

	first := s.Connect(addr, nil)
	second := s.Connect(addr, nil)

	select {
	case <-second.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("second connect never resolved")
	}
	assert.ErrorIs(t, second.Err(), api.ErrConnectPending)
	assert.False(t, first.IsDone(), "the original attempt stays outstanding")

	require.NoError(t, s.Close())
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending connect not failed on close")
	}
	assert.ErrorIs(t, first.Err(), api.ErrChannelClosed)
}

func TestConnectTimesOut(t *testing.T) {
	loop := runLoop(t)
	addr := saturatedAddr(t)

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 150 * time.Millisecond
	s := registeredStream(t, loop, cfg, newActiveSink())

	done := s.Connect(addr, nil)
	select {
	case <-done.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connect never timed out")
	}

	var timeoutErr *api.ConnectTimeoutError
	require.ErrorAs(t, done.Err(), &timeoutErr)
	assert.Equal(t, addr.Port, timeoutErr.Addr.Port)

	select {
	case <-s.CloseDone().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel not torn down after connect timeout")
	}
}

func TestConnectCancelTearsDown(t *testing.T) {
	loop := runLoop(t)
	addr := saturatedAddr(t)

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 0
	s := registeredStream(t, loop, cfg, newActiveSink())

	done := s.Connect(addr, nil)
	time.Sleep(50 * time.Millisecond)
	require.True(t, done.Cancel())
	assert.ErrorIs(t, done.Err(), api.ErrCancelled)

	select {
	case <-s.CloseDone().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel not torn down after cancel")
	}
	assert.False(t, s.IsOpen())
}
