package mainloop

import (
	"context"
	"sync"
	"time"
)

// HostScheduler lets an embedding application drive the loop with its own
// event source instead of poll(2) — the role GlibMainLoop played for
// GLib-based hosts. A host implementation need only be able to watch fds
// for readability and fire timers; Host takes care of idle ordering and
// bookkeeping on top.
type HostScheduler interface {
	// WatchReadable arranges for notify to be called whenever fd is
	// readable, erroring, or hung up, until cancel is called.
	WatchReadable(fd int, notify func(Result)) (cancel func())
	// After arranges for fn to run once, after d has elapsed.
	After(d time.Duration, fn func()) (cancel func())
}

// hostWatch pairs a watch's cancel func with the data pointer RemoveWatch
// must hand back.
type hostWatch struct {
	cancel func()
	data   any
}

// Host is a Loop backed by a HostScheduler.
type Host struct {
	sched HostScheduler

	mu      sync.Mutex
	watches map[int]hostWatch
	timers  map[TimeoutID]func()
	nextID  uint64
	idle    []IdleFunc
	quit    bool

	wake chan struct{}
}

// NewHost creates a Host loop driven by sched.
func NewHost(sched HostScheduler) *Host {
	return &Host{
		sched:   sched,
		watches: make(map[int]hostWatch),
		timers:  make(map[TimeoutID]func()),
		wake:    make(chan struct{}, 1),
	}
}

func (l *Host) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Host) AddWatch(fd int, data any, cb WatchFunc) {
	cancel := l.sched.WatchReadable(fd, func(res Result) {
		if cb(res, fd, data) == Remove {
			l.RemoveWatch(fd)
		}
	})
	l.mu.Lock()
	l.watches[fd] = hostWatch{cancel: cancel, data: data}
	l.mu.Unlock()
}

func (l *Host) RemoveWatch(fd int) any {
	l.mu.Lock()
	w, ok := l.watches[fd]
	delete(l.watches, fd)
	l.mu.Unlock()
	if ok && w.cancel != nil {
		w.cancel()
	}
	if !ok {
		return nil
	}
	return w.data
}

func (l *Host) AddIdle(cb IdleFunc) {
	l.mu.Lock()
	l.idle = append(l.idle, cb)
	l.mu.Unlock()
	l.poke()
}

func (l *Host) AddTimeout(interval Interval, cb TimeoutFunc) TimeoutID {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	var arm func()
	arm = func() {
		cancel := l.sched.After(interval, func() {
			if cb() == Continue {
				arm()
			} else {
				l.mu.Lock()
				delete(l.timers, TimeoutID(id))
				l.mu.Unlock()
			}
		})
		l.mu.Lock()
		l.timers[TimeoutID(id)] = cancel
		l.mu.Unlock()
	}
	arm()

	return TimeoutID(id)
}

func (l *Host) RemoveTimeout(id TimeoutID) {
	l.mu.Lock()
	cancel, ok := l.timers[id]
	delete(l.timers, id)
	l.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
}

func (l *Host) Quit() {
	l.poke()
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()
}

// Run dispatches idle callbacks whenever the host scheduler has no more
// urgent work queued, until Quit is called or ctx is done. Watches and
// timers run on the host scheduler's own goroutines; Run only owns the
// idle queue, matching the original MainLoop's idle-only busy-loop when no
// fd or timer event is pending.
func (l *Host) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		done := l.quit
		var cb IdleFunc
		if len(l.idle) > 0 {
			cb = l.idle[0]
		}
		l.mu.Unlock()

		if done {
			return ctx.Err()
		}

		if cb == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
				continue
			}
		}

		if cb() == Remove {
			l.mu.Lock()
			if len(l.idle) > 0 {
				l.idle = l.idle[1:]
			}
			l.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

var _ Loop = (*Host)(nil)
