package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBurstCoalescesToLastCall(t *testing.T) {
	d := NewTrailing(20 * time.Millisecond)
	var fired atomic.Int64
	for i := 1; i <= 5; i++ {
		i := i
		d.Call(func() { fired.Store(int64(i)) })
	}
	waitFor(t, func() bool { return fired.Load() != 0 })
	assert.Equal(t, int64(5), fired.Load())

	// No second firing follows.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(5), fired.Load())
}

func TestCancelDropsPending(t *testing.T) {
	d := NewTrailing(10 * time.Millisecond)
	var fired atomic.Bool
	d.Call(func() { fired.Store(true) })
	d.Cancel()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestFlushRunsImmediately(t *testing.T) {
	d := NewTrailing(time.Hour)
	var fired atomic.Bool
	d.Call(func() { fired.Store(true) })
	d.Flush()
	require.True(t, fired.Load())

	// Flushing again is a no-op.
	d.Flush()
}

func TestZeroWindowStillDefers(t *testing.T) {
	d := NewTrailing(0)
	done := make(chan struct{})
	d.Call(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled call never ran")
	}
}

func TestWindow(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, NewTrailing(250*time.Millisecond).Window())
}
