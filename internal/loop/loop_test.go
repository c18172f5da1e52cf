package loop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	l.Start()
	t.Cleanup(l.Close)
	return l
}

func TestLoop_RunsPostsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_PostFromTaskDoesNotBlock(t *testing.T) {
	l := startLoop(t)

	var order []string
	done := make(chan struct{})
	l.Post(func() {
		order = append(order, "outer")
		for i := 0; i < 1000; i++ {
			l.Post(func() {})
		}
		l.Post(func() {
			order = append(order, "inner")
			close(done)
		})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts never ran")
	}
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoop_ConcurrentPostersSerialize(t *testing.T) {
	l := startLoop(t)

	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, l.Do(func() { final = counter }))
	assert.Equal(t, 2000, final)
}

func TestLoop_DoAfterCloseReturnsErrClosed(t *testing.T) {
	l := New()
	l.Start()
	l.Close()

	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)
	assert.False(t, l.Post(func() {}))
}

func TestLoop_PanicInTaskDoesNotStopLoop(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Do(func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_AfterFuncRunsOnLoop(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("AfterFunc callback never ran")
	}
}

func TestLoop_StoppedAfterFuncNeverRuns(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Bool
	timer := l.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, l.Do(func() {}))
	assert.False(t, fired.Load())
}

func TestLoop_EveryStopsSynchronously(t *testing.T) {
	l := startLoop(t)

	var ticks atomic.Int32
	var timer Timer
	require.NoError(t, l.Do(func() {
		timer = l.Every(5*time.Millisecond, func() { ticks.Add(1) })
	}))

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	var atStop int32
	require.NoError(t, l.Do(func() {
		timer.Stop()
		atStop = ticks.Load()
	}))

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, l.Do(func() {}))
	assert.Equal(t, atStop, ticks.Load(), "ticks ran after Stop returned")
}
