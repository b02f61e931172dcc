// File: server/server.go
// Package server provides the acceptor facade: one accept loop, a group of
// worker loops, a listening channel and a registry of accepted streams.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/momentics/sockchan/api"
	"github.com/momentics/sockchan/channel"
	"github.com/momentics/sockchan/control"
	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/pool"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("server already running")

// InboundFactory builds the consuming sink for one accepted stream.
type InboundFactory func(s *channel.Stream) api.Inbound

// Server is the unified facade encapsulating the listener, the loop group,
// the buffer pool and the connection registry.
type Server struct {
	cfg     *control.FileConfig
	factory InboundFactory
	log     zerolog.Logger
	metrics *control.Metrics
	pool    api.BufferPool

	acceptLoop *eventloop.Loop
	workers    []*eventloop.Loop
	next       atomic.Uint64
	listener   *channel.Listener
	conns      cmap.ConcurrentMap[string, *channel.Stream]

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger installs a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics installs transport metrics.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBufferPool overrides the default buffer pool.
func WithBufferPool(p api.BufferPool) Option {
	return func(s *Server) { s.pool = p }
}

// New constructs a server facade. factory is invoked once per accepted
// connection to build its consuming sink.
func New(cfg *control.FileConfig, factory InboundFactory, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = control.DefaultFileConfig()
	}
	if factory == nil {
		return nil, fmt.Errorf("server: nil inbound factory")
	}
	s := &Server{
		cfg:     cfg,
		factory: factory,
		log:     zerolog.Nop(),
		pool:    pool.NewPool(),
		conns:   cmap.New[*channel.Stream](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates and runs the loop group, then binds the listening channel.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)

	var err error
	s.acceptLoop, err = eventloop.New(eventloop.WithLogger(s.log))
	if err != nil {
		return err
	}
	s.runLoop(ctx, s.acceptLoop)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	s.workers = make([]*eventloop.Loop, workers)
	for i := range s.workers {
		s.workers[i], err = eventloop.New(eventloop.WithLogger(s.log))
		if err != nil {
			s.cancel()
			return err
		}
		s.runLoop(ctx, s.workers[i])
	}

	addr, err := resolveListen(s.cfg.Listen)
	if err != nil {
		s.cancel()
		return err
	}
	ln, err := channel.NewListenerFor(addr, &s.cfg.Channel, s.pool, &acceptSink{srv: s})
	if err != nil {
		s.cancel()
		return err
	}
	ln.SetLogger(s.log)
	if err := ln.RegisterTo(s.acceptLoop); err != nil {
		_ = ln.Close()
		s.cancel()
		return err
	}
	if err := ln.Bind(addr); err != nil {
		_ = ln.Close()
		s.cancel()
		return err
	}
	s.listener = ln
	s.log.Info().Stringer("addr", ln.LocalAddr()).Int("workers", workers).Msg("listening")
	return nil
}

func (s *Server) runLoop(ctx context.Context, l *eventloop.Loop) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := l.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("loop exited with error")
		}
	}()
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() *net.TCPAddr {
	if s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// ActiveConnections reports the number of registered accepted streams.
func (s *Server) ActiveConnections() int { return s.conns.Count() }

// closeDrainTimeout bounds the wait for marshalled per-connection closes;
// a loop whose outer context died early would otherwise stall Close forever.
const closeDrainTimeout = 5 * time.Second

// Close shuts the listener, every accepted stream and the loop group down.
// Connection closes run on their worker loops, so Close waits for them to
// resolve before cancelling the loop contexts.
func (s *Server) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	var pending []*api.Completion
	for kv := range s.conns.IterBuffered() {
		pending = append(pending, kv.Val.CloseDone())
		_ = kv.Val.Close()
	}
	deadline := time.After(closeDrainTimeout)
drain:
	for _, done := range pending {
		select {
		case <-done.Done():
		case <-deadline:
			s.log.Warn().Msg("timed out draining connection closes")
			break drain
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) nextWorker() *eventloop.Loop {
	n := s.next.Add(1)
	return s.workers[int(n-1)%len(s.workers)]
}

func resolveListen(listen string) (*net.TCPAddr, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("listen port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil && host != "" {
		return nil, fmt.Errorf("listen host %q is not an IP literal", host)
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// acceptSink consumes the listening channel's events: each accepted stream
// is handed a consuming sink, registered on the next worker loop and
// tracked until it closes.
type acceptSink struct {
	api.NopInbound
	srv *Server
}

func (a *acceptSink) OnAccepted(ch api.Channel) {
	s := a.srv
	stream, ok := ch.(*channel.Stream)
	if !ok {
		_ = ch.Close()
		return
	}
	key := connKey(stream)
	stream.SetLogger(s.log)
	stream.SetInbound(&countingSink{inner: s.factory(stream), metrics: s.metrics})
	if s.metrics != nil {
		stream.SetWriteObserver(func(n int64) { s.metrics.BytesWritten.Add(float64(n)) })
	}
	if err := stream.RegisterTo(s.nextWorker()); err != nil {
		s.log.Error().Err(err).Str("conn", key).Msg("register accepted stream")
		_ = stream.Close()
		return
	}
	s.conns.Set(key, stream)
	if s.metrics != nil {
		s.metrics.AcceptedTotal.Inc()
		s.metrics.ActiveChannels.Inc()
	}
	stream.CloseDone().OnComplete(func(*api.Completion) {
		s.conns.Remove(key)
		if s.metrics != nil {
			s.metrics.ActiveChannels.Dec()
		}
	})
}

func (a *acceptSink) OnExceptionCaught(err error) {
	a.srv.log.Error().Err(err).Msg("accept pass failed")
}

func connKey(stream *channel.Stream) string {
	if addr := stream.RemoteAddr(); addr != nil {
		return addr.String() + "/" + strconv.Itoa(stream.FD())
	}
	return "fd/" + strconv.Itoa(stream.FD())
}

// countingSink decorates an inbound sink with byte accounting.
type countingSink struct {
	inner   api.Inbound
	metrics *control.Metrics
}

func (c *countingSink) OnDataReceived(buf api.Buffer) {
	if c.metrics != nil {
		c.metrics.BytesRead.Add(float64(buf.Len()))
	}
	c.inner.OnDataReceived(buf)
}

func (c *countingSink) OnAccepted(ch api.Channel)   { c.inner.OnAccepted(ch) }
func (c *countingSink) OnReadComplete()             { c.inner.OnReadComplete() }
func (c *countingSink) OnActive()                   { c.inner.OnActive() }
func (c *countingSink) OnExceptionCaught(err error) { c.inner.OnExceptionCaught(err) }
func (c *countingSink) OnUserEvent(evt any)         { c.inner.OnUserEvent(evt) }
