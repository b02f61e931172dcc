// File: eventloop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral loop core: registration table, task queue, timer heap.
// The readiness primitive itself lives in the per-platform poller files.

package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrLoopRunning is returned when Run is called on a loop that is already
// running.
var ErrLoopRunning = errors.New("eventloop: loop already running")

// Kind identifies the native IO flavor a loop is built on. A channel may
// only be driven by a loop of the kind it was written for.
type Kind int

const (
	// KindEpoll is the Linux epoll(7) flavor.
	KindEpoll Kind = iota
	// KindStub is the non-Linux placeholder flavor.
	KindStub
)

// Interest is the per-descriptor readiness interest bitmask.
type Interest uint32

const (
	// InterestRead requests read-readiness callbacks.
	InterestRead Interest = 1 << iota
	// InterestWrite requests write-readiness callbacks.
	InterestWrite
)

// Channel is what the loop knows about a registered descriptor owner.
// Readiness callbacks run on the loop goroutine.
type Channel interface {
	FD() int
	Interest() Interest
	ReadReady()
	WriteReady()
}

// Loop owns one poller instance and dispatches readiness, marshalled tasks
// and timers on a single goroutine. Each channel binds to exactly one loop
// for its lifetime.
type Loop struct {
	kind   Kind
	poller poller
	log    zerolog.Logger

	mu     sync.Mutex
	chans  map[int]Channel
	tasks  []func()
	timers timerHeap
	seq    uint64

	gid         atomic.Uint64
	running     atomic.Bool
	wakePending atomic.Bool
}

// Option customizes loop construction.
type Option func(*Loop)

// WithLogger installs a structured logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// New creates a loop backed by the host platform's readiness primitive.
func New(opts ...Option) (*Loop, error) {
	p, kind, err := newPoller()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		kind:   kind,
		poller: p,
		log:    zerolog.Nop(),
		chans:  make(map[int]Channel),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Kind reports the loop's native IO flavor.
func (l *Loop) Kind() Kind { return l.kind }

// Register adds ch's descriptor to the readiness set with its current
// interest mask.
func (l *Loop) Register(ch Channel) error {
	if err := l.poller.Add(ch.FD(), ch.Interest()); err != nil {
		return err
	}
	l.mu.Lock()
	l.chans[ch.FD()] = ch
	l.mu.Unlock()
	return nil
}

// Modify updates the readiness set to ch's current interest mask.
func (l *Loop) Modify(ch Channel) error {
	return l.poller.Mod(ch.FD(), ch.Interest())
}

// Deregister removes ch from the readiness set. Tolerates being called
// after the descriptor was closed or never registered.
func (l *Loop) Deregister(ch Channel) error {
	fd := ch.FD()
	l.mu.Lock()
	delete(l.chans, fd)
	l.mu.Unlock()
	if fd < 0 {
		return nil
	}
	return l.poller.Del(fd)
}

// InLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) InLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == curGoroutineID()
}

// Execute runs fn on the loop goroutine: inline when already there,
// otherwise enqueued and woken.
func (l *Loop) Execute(fn func()) {
	if l.InLoop() {
		fn()
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.wakeup()
}

// Schedule runs fn on the loop goroutine after d elapses. The returned
// timer can be cancelled from any goroutine; a cancelled timer never fires.
func (l *Loop) Schedule(d time.Duration, fn func()) *Timer {
	t := &Timer{when: time.Now().Add(d), fn: fn}
	l.mu.Lock()
	l.seq++
	t.seq = l.seq
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	if !l.InLoop() {
		l.wakeup()
	}
	return t
}

func (l *Loop) wakeup() {
	if l.wakePending.CompareAndSwap(false, true) {
		l.poller.Wake()
	}
}

// Run drives the loop until ctx is cancelled. It must be called from
// exactly one goroutine; that goroutine becomes the owning loop thread.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	l.gid.Store(curGoroutineID())
	defer func() {
		l.gid.Store(0)
		l.running.Store(false)
		_ = l.poller.Close()
	}()

	// Wake the poll wait when the context is cancelled.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			l.wakeup()
		case <-watchDone:
		}
	}()

	events := make([]pollEvent, 128)
	for {
		if ctx.Err() != nil {
			// Tasks marshalled before cancellation still run; a queued
			// close must not leak its descriptor.
			l.runTasks()
			return nil
		}
		n, err := l.poller.Wait(events, l.nextTimeoutMs())
		if err != nil {
			l.log.Error().Err(err).Msg("poll wait failed")
			return err
		}
		l.wakePending.Store(false)
		l.runTimers()
		l.runTasks()
		for i := 0; i < n; i++ {
			l.dispatch(events[i])
		}
	}
}

func (l *Loop) dispatch(ev pollEvent) {
	l.mu.Lock()
	ch := l.chans[ev.fd]
	l.mu.Unlock()
	if ch == nil {
		return
	}
	if ev.writable {
		ch.WriteReady()
	}
	if !ev.readable {
		return
	}
	// The write callback may have closed and deregistered the channel.
	l.mu.Lock()
	ch = l.chans[ev.fd]
	l.mu.Unlock()
	if ch != nil {
		ch.ReadReady()
	}
}

// nextTimeoutMs picks the poll timeout: zero when tasks are pending,
// the delay to the nearest timer otherwise, infinite when idle.
func (l *Loop) nextTimeoutMs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) > 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].when)
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

func (l *Loop) runTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*Timer)
		l.mu.Unlock()
		if t.cancelled.Load() {
			continue
		}
		t.fn()
	}
}

// curGoroutineID parses the current goroutine's id out of the stack header.
func curGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
