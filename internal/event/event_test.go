package event_test

import (
	"context"
	"testing"
	"time"

	"embedlsp/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceResolvesOnMatch(t *testing.T) {
	e := event.NewEmitter[int]()
	w := e.Once(func(v int) bool { return v > 1 })

	e.Fire(1)
	assert.Equal(t, 1, e.Pending())
	e.Fire(2)
	e.Fire(3)
	assert.Equal(t, 0, e.Pending())

	v, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestOnceUnsubscribesOnCancel(t *testing.T) {
	e := event.NewEmitter[string]()
	w := e.Once(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, event.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, e.Pending())

	w.Cancel()
	e.Fire("late")
	assert.Equal(t, 0, e.Pending())
}

func TestRepeatedWaitsDoNotLeak(t *testing.T) {
	e := event.NewEmitter[int]()
	for i := 0; i < 100; i++ {
		w := e.Once(func(v int) bool { return v == i })
		go e.Fire(i)
		v, err := w.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	assert.Equal(t, 0, e.Pending())
}

func TestSubscribe(t *testing.T) {
	e := event.NewEmitter[int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Subscribe(ctx)

	e.Fire(7)
	select {
	case v := <-ch:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)
}
