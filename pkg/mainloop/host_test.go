package mainloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeScheduler is a minimal HostScheduler for tests, standing in for an
// embedding application's own event loop.
type fakeScheduler struct {
	mu      sync.Mutex
	timers  []func()
}

func (f *fakeScheduler) WatchReadable(fd int, notify func(Result)) func() {
	return func() {}
}

func (f *fakeScheduler) After(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

func TestHostIdleRunsOnce(t *testing.T) {
	loop := NewHost(&fakeScheduler{})

	done := make(chan struct{})
	loop.AddIdle(func() Disposition {
		close(done)
		return Remove
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go loop.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle callback never fired")
	}
	loop.Quit()
}

func TestHostTimeoutFires(t *testing.T) {
	loop := NewHost(&fakeScheduler{})

	done := make(chan struct{})
	loop.AddTimeout(10*time.Millisecond, func() Disposition {
		close(done)
		return Remove
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go loop.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	loop.Quit()
}
