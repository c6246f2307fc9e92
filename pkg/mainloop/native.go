//go:build unix

package mainloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// watchEntry pairs a registered callback with the opaque data pointer
// passed to AddWatch, which RemoveWatch hands back.
type watchEntry struct {
	cb   WatchFunc
	data any
}

// Native is a poll(2)-based Loop, the Go counterpart of the original
// PosixMainLoop. Unlike the original it has no SIGUSR1 signal handler or
// per-timer POSIX timer_create call: timers are tracked in a min-heap and
// the poll(2) timeout is computed from the nearest deadline, so adding a
// timeout never touches process-wide signal state.
type Native struct {
	mu      sync.Mutex
	watches map[int]*watchEntry
	idle    []IdleFunc
	timers  timerHeap
	nextID  uint64

	wakeR, wakeW int

	quit     chan struct{}
	quitOnce sync.Once
}

// NewNative creates a Native loop. The returned loop owns a pipe pair for
// internal wakeups; Run must eventually be called and allowed to return so
// the pipe is closed.
func NewNative() (*Native, error) {
	fds, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("mainloop: pipe2: %w", err)
	}
	return &Native{
		watches: make(map[int]*watchEntry),
		wakeR:   fds[0],
		wakeW:   fds[1],
		quit:    make(chan struct{}),
	}, nil
}

func (l *Native) wake() {
	var b [1]byte
	_, _ = unix.Write(l.wakeW, b[:])
}

func (l *Native) AddIdle(cb IdleFunc) {
	l.mu.Lock()
	l.idle = append(l.idle, cb)
	l.mu.Unlock()
	l.wake()
}

func (l *Native) AddWatch(fd int, data any, cb WatchFunc) {
	l.mu.Lock()
	l.watches[fd] = &watchEntry{cb: cb, data: data}
	l.mu.Unlock()
	l.wake()
}

func (l *Native) RemoveWatch(fd int) any {
	l.mu.Lock()
	entry, ok := l.watches[fd]
	delete(l.watches, fd)
	l.mu.Unlock()
	l.wake()
	if !ok {
		return nil
	}
	return entry.data
}

func (l *Native) AddTimeout(interval Interval, cb TimeoutFunc) TimeoutID {
	l.mu.Lock()
	l.nextID++
	id := TimeoutID(l.nextID)
	heap.Push(&l.timers, &timer{
		id:       id,
		deadline: time.Now().Add(interval),
		interval: interval,
		cb:       cb,
	})
	l.mu.Unlock()
	l.wake()
	return id
}

func (l *Native) RemoveTimeout(id TimeoutID) {
	l.mu.Lock()
	for i, t := range l.timers {
		if t.id == id {
			heap.Remove(&l.timers, i)
			break
		}
	}
	l.mu.Unlock()
	l.wake()
}

func (l *Native) Quit() {
	l.quitOnce.Do(func() { close(l.quit) })
	l.wake()
}

// Run dispatches callbacks until Quit is called or ctx is done.
func (l *Native) Run(ctx context.Context) error {
	defer unix.Close(l.wakeR)
	defer unix.Close(l.wakeW)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Quit()
		case <-stop:
		}
	}()

	for {
		select {
		case <-l.quit:
			return ctx.Err()
		default:
		}

		pfds, fds := l.snapshotPfds()
		timeoutMs := l.pollTimeoutMs()

		n, err := unix.Poll(pfds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("mainloop: poll: %w", err)
		}

		l.fireDueTimers()

		handled := false
		if n > 0 {
			for i, pfd := range pfds {
				if pfd.Revents == 0 {
					continue
				}
				if i == len(pfds)-1 {
					// wake pipe: drain and re-check tables next iteration.
					var buf [64]byte
					for {
						if _, rerr := unix.Read(l.wakeR, buf[:]); rerr != nil {
							break
						}
					}
					continue
				}
				handled = true
				l.fireWatch(fds[i], pfd.Revents)
			}
		}

		if !handled {
			l.fireOneIdle()
		}
	}
}

func (l *Native) snapshotPfds() ([]unix.PollFd, []int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fds := make([]int, 0, len(l.watches))
	pfds := make([]unix.PollFd, 0, len(l.watches)+1)
	for fd := range l.watches {
		fds = append(fds, fd)
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLHUP | unix.POLLERR})
	}
	pfds = append(pfds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	return pfds, fds
}

func (l *Native) pollTimeoutMs() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.idle) > 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].deadline)
	if d < 0 {
		return 0
	}
	return int(d / time.Millisecond)
}

func (l *Native) fireDueTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*timer)
		l.mu.Unlock()

		if t.cb() == Continue {
			t.deadline = now.Add(t.interval)
			l.mu.Lock()
			heap.Push(&l.timers, t)
			l.mu.Unlock()
		}
	}
}

func (l *Native) fireWatch(fd int, revents int16) {
	l.mu.Lock()
	entry, ok := l.watches[fd]
	l.mu.Unlock()
	if !ok {
		return
	}

	result := Okay
	switch {
	case revents&unix.POLLHUP != 0:
		result = Hangup
	case revents&unix.POLLERR != 0:
		result = Error
	}

	if entry.cb(result, fd, entry.data) == Remove {
		l.RemoveWatch(fd)
	}
}

func (l *Native) fireOneIdle() {
	l.mu.Lock()
	if len(l.idle) == 0 {
		l.mu.Unlock()
		return
	}
	cb := l.idle[0]
	l.mu.Unlock()

	if cb() == Remove {
		l.mu.Lock()
		if len(l.idle) > 0 {
			l.idle = l.idle[1:]
		}
		l.mu.Unlock()
	}
}

var _ Loop = (*Native)(nil)
