package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionSingleFire(t *testing.T) {
	c := NewCompletion()
	require.False(t, c.IsDone())

	require.True(t, c.TrySuccess())
	assert.True(t, c.IsDone())
	assert.NoError(t, c.Err())

	// A late failure must not overwrite an already-successful resolution.
	assert.False(t, c.TryFailure(errors.New("late timer")))
	assert.NoError(t, c.Err())
	assert.False(t, c.Cancelled())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCompletionFailureThenSuccessIsNoop(t *testing.T) {
	c := NewCompletion()
	cause := errors.New("boom")
	require.True(t, c.TryFailure(cause))
	assert.False(t, c.TrySuccess())
	assert.Equal(t, cause, c.Err())
}

func TestCompletionCancel(t *testing.T) {
	c := NewCompletion()
	require.True(t, c.Cancel())
	assert.True(t, c.Cancelled())
	assert.ErrorIs(t, c.Err(), ErrCancelled)
	assert.False(t, c.Cancel())
}

func TestCompletionListeners(t *testing.T) {
	c := NewCompletion()
	fired := 0
	c.OnComplete(func(done *Completion) {
		fired++
		assert.NoError(t, done.Err())
	})
	require.True(t, c.TrySuccess())
	assert.Equal(t, 1, fired)

	// Registration after resolution runs inline.
	c.OnComplete(func(*Completion) { fired++ })
	assert.Equal(t, 2, fired)
}

func TestCompletionProgress(t *testing.T) {
	c := NewCompletion()
	var sum int64
	c.SetProgress(func(n int64) { sum += n })
	c.ReportProgress(4000)
	c.ReportProgress(3000)
	c.ReportProgress(0) // zero progress is suppressed
	c.ReportProgress(3000)
	assert.Equal(t, int64(10000), sum)
}

func TestCompletionNilFailureCause(t *testing.T) {
	c := NewCompletion()
	require.True(t, c.TryFailure(nil))
	assert.ErrorIs(t, c.Err(), ErrCompletionFailed)
}
