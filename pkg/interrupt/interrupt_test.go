package interrupt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaiterRoundTrip(t *testing.T) {
	a := NewAwaiter()
	done := make(chan struct{})
	var got string
	var err error

	go func() {
		got, err = a.WaitForInput(context.Background(), "thread1")
		close(done)
	}()

	// give the goroutine a moment to register its waiter
	for !a.IsWaiting("thread1") {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, a.ProvideInput("thread1", "yes please"))
	<-done

	require.NoError(t, err)
	assert.Equal(t, "yes please", got)
	assert.False(t, a.IsWaiting("thread1"))
}

func TestAwaiterTimeout(t *testing.T) {
	a := NewAwaiter()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.WaitForInput(ctx, "thread2")
	assert.ErrorIs(t, err, ErrInputTimeout)
}

func TestAwaiterNoWaiter(t *testing.T) {
	a := NewAwaiter()
	assert.ErrorIs(t, a.ProvideInput("nope", "x"), ErrNoWaiter)
}

func TestSingleInterruptRule(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("inv1"))
	assert.ErrorIs(t, tr.Begin("inv1"), ErrAlreadyInterrupted)
	tr.Reset("inv1")
	require.NoError(t, tr.Begin("inv1"))
}

func TestAsSignal(t *testing.T) {
	var err error = &Signal{Value: "question?"}
	s, ok := AsSignal(err)
	require.True(t, ok)
	assert.Equal(t, "question?", s.Value)
}
