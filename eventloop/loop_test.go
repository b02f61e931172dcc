//go:build linux

// File: eventloop/loop_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package eventloop_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/sockchan/eventloop"
	"github.com/momentics/sockchan/internal/sock"
)

func startLoop(t *testing.T) (*eventloop.Loop, context.CancelFunc) {
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
	return l, cancel
}

// fdChannel is a minimal registration target backed by one socketpair end.
type fdChannel struct {
	fd       int
	interest eventloop.Interest
	onRead   func()
	onWrite  func()
}

func (c *fdChannel) FD() int                      { return c.fd }
func (c *fdChannel) Interest() eventloop.Interest { return c.interest }
func (c *fdChannel) ReadReady() {
	if c.onRead != nil {
		c.onRead()
	}
}
func (c *fdChannel) WriteReady() {
	if c.onWrite != nil {
		c.onWrite()
	}
}

func TestExecuteMarshalsToLoopGoroutine(t *testing.T) {
	l, _ := startLoop(t)

	ran := make(chan bool, 1)
	l.Execute(func() { ran <- l.InLoop() })

	select {
	case inLoop := <-ran:
		assert.True(t, inLoop, "task must observe itself on the loop goroutine")
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	assert.False(t, l.InLoop(), "test goroutine is not the loop goroutine")
}

func TestExecuteInlineWhenAlreadyInLoop(t *testing.T) {
	l, _ := startLoop(t)

	order := make(chan string, 2)
	l.Execute(func() {
		// Nested Execute from the loop goroutine runs before returning.
		l.Execute(func() { order <- "inner" })
		order <- "outer"
	})

	require.Equal(t, "inner", <-order)
	require.Equal(t, "outer", <-order)
}

func TestScheduleFiresInOrder(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan int, 3)
	l.Schedule(60*time.Millisecond, func() { fired <- 3 })
	l.Schedule(20*time.Millisecond, func() { fired <- 1 })
	l.Schedule(40*time.Millisecond, func() { fired <- 2 })

	for want := 1; want <= 3; want++ {
		select {
		case got := <-fired:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timer %d never fired", want)
		}
	}
}

func TestCancelledTimerNeverFires(t *testing.T) {
	l, _ := startLoop(t)

	var fired atomic.Bool
	tm := l.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	tm.Cancel()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestReadReadinessDispatch(t *testing.T) {
	l, _ := startLoop(t)

	a, b, err := sock.Pair()
	require.NoError(t, err)
	defer sock.Close(a)

	readable := make(chan struct{}, 1)
	ch := &fdChannel{fd: b, interest: eventloop.InterestRead}
	ch.onRead = func() {
		res, rerr := sock.Read(b, make([]byte, 16))
		require.NoError(t, rerr)
		if res.N > 0 {
			select {
			case readable <- struct{}{}:
			default:
			}
		}
	}
	require.NoError(t, l.Register(ch))
	defer func() {
		_ = l.Deregister(ch)
		_ = sock.Close(b)
	}()

	_, err = sock.Write(a, []byte("wake"))
	require.NoError(t, err)

	select {
	case <-readable:
	case <-time.After(2 * time.Second):
		t.Fatal("read readiness never delivered")
	}
}

func TestTasksQueuedBeforeCancelStillRun(t *testing.T) {
	l, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = l.Run(ctx)
	}()

	// Park the loop goroutine inside a task, enqueue a follow-up, then
	// cancel: the follow-up must run on the way out.
	started := make(chan struct{})
	release := make(chan struct{})
	l.Execute(func() {
		close(started)
		<-release
	})
	<-started

	ran := make(chan struct{})
	l.Execute(func() { close(ran) })
	cancel()
	close(release)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task enqueued before cancellation was dropped")
	}
	<-loopDone
}

func TestRunRejectsSecondRunner(t *testing.T) {
	l, _ := startLoop(t)

	// Give the first runner a beat to take ownership.
	started := make(chan struct{})
	l.Execute(func() { close(started) })
	<-started

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, eventloop.ErrLoopRunning)
}
