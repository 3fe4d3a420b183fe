package sema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/ferrocore/internal/status"
)

func TestNonBlockingWouldBlock(t *testing.T) {
	s := New(0)
	err := s.DownNonBlocking()
	require.True(t, status.Is(err, status.WouldBlock))
}

func TestNonBlockingAcquires(t *testing.T) {
	s := New(1)
	require.NoError(t, s.DownNonBlocking())
	require.Equal(t, 0, s.Count())
}

func TestBlockingUnblocksOnUp(t *testing.T) {
	s := New(0)
	done := make(chan error, 1)
	go func() { done <- s.DownBlocking() }()

	time.Sleep(10 * time.Millisecond)
	s.Up()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DownBlocking never returned")
	}
}

func TestTimeoutFiresWithoutUp(t *testing.T) {
	s := New(0)
	err := s.DownTimeout(20*time.Millisecond, nil)
	require.True(t, status.Is(err, status.TimedOut))
}

func TestTimeoutRacingUpResolvesToUp(t *testing.T) {
	s := New(0)
	done := make(chan error, 1)
	go func() { done <- s.DownTimeout(200*time.Millisecond, nil) }()

	time.Sleep(5 * time.Millisecond)
	s.Up()

	err := <-done
	require.NoError(t, err)
}

func TestInterruptSignals(t *testing.T) {
	s := New(0)
	interrupt := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.DownInterruptible(interrupt) }()

	time.Sleep(10 * time.Millisecond)
	close(interrupt)

	err := <-done
	require.True(t, status.Is(err, status.Signaled))
}

func TestFIFOAcrossMultipleWaiters(t *testing.T) {
	s := New(0)
	const n = 5
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			_ = s.DownBlocking()
			order <- i
		}()
		time.Sleep(2 * time.Millisecond) // force arrival order
	}

	for i := 0; i < n; i++ {
		s.Up()
		require.Equal(t, i, <-order)
	}
}
