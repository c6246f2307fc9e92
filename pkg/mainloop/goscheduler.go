//go:build unix

package mainloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// GoScheduler is the default HostScheduler: it watches fds with a
// goroutine-per-fd poll(2) call and fires timers with time.AfterFunc,
// so embedding applications that don't run their own event loop can
// still use Host instead of Native.
type GoScheduler struct{}

// NewGoScheduler returns a ready-to-use GoScheduler.
func NewGoScheduler() *GoScheduler { return &GoScheduler{} }

func (GoScheduler) WatchReadable(fd int, notify func(Result)) (cancel func()) {
	stop := make(chan struct{})
	go func() {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, err := unix.Poll(pfd, 250)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				notify(Error)
				return
			}
			if n == 0 {
				continue
			}
			if pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				notify(Error)
				return
			}
			if pfd[0].Revents&unix.POLLHUP != 0 {
				notify(Hangup)
				return
			}
			if pfd[0].Revents&unix.POLLIN != 0 {
				notify(Okay)
			}
		}
	}()
	return func() { close(stop) }
}

func (GoScheduler) After(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

var _ HostScheduler = GoScheduler{}
