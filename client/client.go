// File: client/client.go
// Package client provides the connecting facade: a Dialer that creates
// stream channels on an event loop and resolves connect attempts, with
// optional retry backoff for transient failures.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/channel"
	"github.com/momentics/sockchan/control"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/pool"
)

// Dialer creates outbound stream channels on a single event loop.
type Dialer struct {
	loop    *eventloop.Loop
	cfg     *channel.Config
	pool    api.BufferPool
	log     zerolog.Logger
	metrics *control.Metrics
	retry   backoff.BackOff
}

// Option customizes dialer construction.
type Option func(*Dialer)

// WithLogger installs a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dialer) { d.log = log }
}

// WithMetrics installs transport metrics.
func WithMetrics(m *control.Metrics) Option {
	return func(d *Dialer) { d.metrics = m }
}

// WithBufferPool overrides the default buffer pool.
func WithBufferPool(p api.BufferPool) Option {
	return func(d *Dialer) { d.pool = p }
}

// WithRetry enables transient-failure retry with the given backoff policy.
// Refused and timed-out connects are retried; protocol misuse is not.
func WithRetry(b backoff.BackOff) Option {
	return func(d *Dialer) { d.retry = b }
}

// NewDialer creates a dialer bound to loop.
func NewDialer(loop *eventloop.Loop, cfg *channel.Config, opts ...Option) *Dialer {
	if cfg == nil {
		cfg = channel.DefaultConfig()
	}
	d := &Dialer{
		loop: loop,
		cfg:  cfg,
		pool: pool.NewPool(),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects to addr (an IP literal host:port) and returns the active
// stream channel. in becomes the channel's consuming sink.
func (d *Dialer) Dial(ctx context.Context, addr string, in api.Inbound) (*channel.Stream, error) {
	remote, err := resolveAddr(addr)
	if err != nil {
		return nil, err
	}
	if d.retry == nil {
		return d.dialOnce(ctx, remote, in)
	}

	var stream *channel.Stream
	operation := func() error {
		var dialErr error
		stream, dialErr = d.dialOnce(ctx, remote, in)
		if dialErr == nil {
			return nil
		}
		if retryable(dialErr) {
			d.log.Debug().Err(dialErr).Stringer("addr", remote).Msg("dial failed, retrying")
			return dialErr
		}
		return backoff.Permanent(dialErr)
	}
	if err := backoff.Retry(operation, backoff.WithContext(d.retry, ctx)); err != nil {
		return nil, err
	}
	return stream, nil
}

func (d *Dialer) dialOnce(ctx context.Context, remote *net.TCPAddr, in api.Inbound) (*channel.Stream, error) {
	stream, err := channel.NewStreamFor(remote, d.cfg, d.pool, in)
	if err != nil {
		return nil, err
	}
	stream.SetLogger(d.log)
	if d.metrics != nil {
		stream.SetWriteObserver(func(n int64) { d.metrics.BytesWritten.Add(float64(n)) })
	}
	if err := stream.RegisterTo(d.loop); err != nil {
		_ = stream.Close()
		return nil, err
	}
	done := stream.Connect(remote, nil)
	select {
	case <-done.Done():
	case <-ctx.Done():
		done.Cancel()
		<-done.Done()
	}
	if err := done.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, api.ErrCancelled) {
			return nil, ctxErr
		}
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.ConnectsTotal.Inc()
	}
	return stream, nil
}

// retryable reports whether a dial failure is transient.
func retryable(err error) bool {
	var timeout *api.ConnectTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var connect *api.ConnectError
	return errors.As(err, &connect)
}

func resolveAddr(addr string) (*net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	return tcpAddr, nil
}
