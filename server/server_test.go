//go:build linux

// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/channel"
	"github.com/momentics/sockchan/client"
	"github.com/momentics/sockchan/control"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/pool"
	"github.com/momentics/sockchan/server"
)

// echoSink writes every received buffer straight back to its stream.
type echoSink struct {
	api.NopInbound
	stream *channel.Stream
}

func (e *echoSink) OnDataReceived(buf api.Buffer) { e.stream.Write(buf) }
func (e *echoSink) OnReadComplete()               { e.stream.Flush() }

// collectSink accumulates received bytes and signals a target total.
type collectSink struct {
	api.NopInbound
	mu     sync.Mutex
	data   bytes.Buffer
	target int
	full   chan struct{}
}

func newCollectSink(target int) *collectSink {
	return &collectSink{target: target, full: make(chan struct{})}
}

func (c *collectSink) OnDataReceived(buf api.Buffer) {
	c.mu.Lock()
	c.data.Write(buf.Bytes())
	if c.data.Len() >= c.target && c.target > 0 {
		c.target = 0
		close(c.full)
	}
	c.mu.Unlock()
	buf.Release()
}

func (c *collectSink) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data.Bytes()...)
}

func startEchoServer(t *testing.T, workers int) *server.Server {
	t.Helper()
	cfg := control.DefaultFileConfig()
	cfg.Workers = workers

	srv, err := server.New(cfg, func(s *channel.Stream) api.Inbound {
		return &echoSink{stream: s}
	}, server.WithMetrics(control.NewMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func startDialerLoop(t *testing.T) *eventloop.Loop {
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

func TestEchoRoundTripAcrossMultipleWrites(t *testing.T) {
	srv := startEchoServer(t, 2)
	loop := startDialerLoop(t)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	sink := newCollectSink(len(payload))

	d := client.NewDialer(loop, nil)
	stream, err := d.Dial(context.Background(), srv.Addr().String(), sink)
	require.NoError(t, err)
	defer stream.Close()

	p := pool.NewPool()
	for _, chunk := range [][]byte{payload[:4000], payload[4000:7000], payload[7000:]} {
		done := stream.Write(pool.NewFilled(p, chunk))
		stream.Flush()
		select {
		case <-done.Done():
			require.NoError(t, done.Err())
		case <-time.After(5 * time.Second):
			t.Fatal("write never completed")
		}
	}

	select {
	case <-sink.full:
	case <-time.After(10 * time.Second):
		t.Fatalf("echo incomplete: got %d of %d bytes", len(sink.bytes()), len(payload))
	}
	assert.Equal(t, payload, sink.bytes(), "echoed stream must match the sent payload byte for byte")
}

func TestConnectionRegistryTracksLifetime(t *testing.T) {
	srv := startEchoServer(t, 1)
	loop := startDialerLoop(t)

	d := client.NewDialer(loop, nil)
	stream, err := d.Dial(context.Background(), srv.Addr().String(), newCollectSink(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.ActiveConnections() == 1
	}, 5*time.Second, 20*time.Millisecond, "accepted stream never registered")

	require.NoError(t, stream.Close())
	require.Eventually(t, func() bool {
		return srv.ActiveConnections() == 0
	}, 5*time.Second, 20*time.Millisecond, "closed stream never deregistered")
}

func TestCloseDisconnectsAcceptedStreams(t *testing.T) {
	srv := startEchoServer(t, 2)
	loop := startDialerLoop(t)

	d := client.NewDialer(loop, nil)
	stream, err := d.Dial(context.Background(), srv.Addr().String(), newCollectSink(1))
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool {
		return srv.ActiveConnections() == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Server close must reach every accepted descriptor, even though the
	// per-connection closes are marshalled onto worker loops.
	require.NoError(t, srv.Close())
	assert.Zero(t, srv.ActiveConnections())

	select {
	case <-stream.CloseDone().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client never observed the server-side close")
	}
}

func TestStartTwiceFails(t *testing.T) {
	srv := startEchoServer(t, 1)
	assert.ErrorIs(t, srv.Start(context.Background()), server.ErrAlreadyRunning)
}

func TestDialRefusedAddressFails(t *testing.T) {
	srv := startEchoServer(t, 1)
	loop := startDialerLoop(t)

	// Grab a port that is free, then close the server bound to it.
	addr := srv.Addr().String()
	require.NoError(t, srv.Close())

	d := client.NewDialer(loop, nil)
	_, err := d.Dial(context.Background(), addr, newCollectSink(1))
	require.Error(t, err)
	var connectErr *api.ConnectError
	assert.ErrorAs(t, err, &connectErr)
}
