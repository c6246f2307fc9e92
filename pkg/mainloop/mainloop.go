// Package mainloop implements the cooperative reactor that drives the
// UDP_SRTP transport's sockets: idle callbacks, fd watches and timeouts.
// Native dispatches all three from the one goroutine running Run; Host
// runs watch and timeout callbacks on its HostScheduler's goroutines and
// only idle callbacks from Run.
//
// Two implementations are provided. Native (native.go, unix-only) polls file
// descriptors directly with golang.org/x/sys/unix, the same role the
// original C++ PosixMainLoop played. Host (host.go) hands scheduling off to
// an embedding application's own event loop through the HostScheduler
// interface, the role GlibMainLoop played for GLib-based hosts.
package mainloop

import (
	"context"
	"time"
)

// Interval is the period between timeout firings.
type Interval = time.Duration

// Result describes why a watch callback fired.
type Result int

const (
	// Okay means the watched fd is readable.
	Okay Result = iota
	// Error means poll reported an error condition on the fd.
	Error
	// Hangup means poll reported the peer closed the connection.
	Hangup
	// Removed means the source was torn down externally, not as a result
	// of the callback's own returned disposition.
	Removed
)

// Disposition is returned by a callback to tell the loop whether to keep
// the source registered.
type Disposition int

const (
	// Remove unregisters the source after this invocation.
	Remove Disposition = iota
	// Continue keeps the source registered for future events.
	Continue
)

// WatchFunc is invoked when a watched fd becomes readable, errors, or hangs
// up. fd is included so one callback can be shared across watches; data is
// the opaque pointer passed to AddWatch, handed back unchanged.
type WatchFunc func(result Result, fd int, data any) Disposition

// IdleFunc is invoked once the loop has no higher-priority work pending.
type IdleFunc func() Disposition

// TimeoutFunc is invoked when a timer expires.
type TimeoutFunc func() Disposition

// TimeoutID identifies a registered timeout for later removal.
type TimeoutID uint64

// Loop is the reactor contract shared by the native and host
// implementations. All methods are safe to call from any goroutine.
// Native runs every callback on the goroutine running Run; Host runs only
// idle callbacks there and watch and timeout callbacks on goroutines of
// its HostScheduler.
type Loop interface {
	// Run blocks, dispatching callbacks, until Quit is called or ctx is
	// done.
	Run(ctx context.Context) error
	// Quit asks a running loop to stop. Safe to call from any goroutine,
	// including from within a callback.
	Quit()
	// AddIdle registers cb to run once the loop is otherwise idle.
	AddIdle(cb IdleFunc)
	// AddWatch registers cb to run whenever fd is readable, errors, or
	// hangs up. data is stored alongside the watch and returned by
	// RemoveWatch, non-owning: the loop never interprets it.
	AddWatch(fd int, data any, cb WatchFunc)
	// RemoveWatch unregisters fd and returns the data pointer passed to
	// AddWatch. Returns nil if fd was never registered.
	RemoveWatch(fd int) any
	// AddTimeout registers cb to run every interval until it returns
	// Remove or RemoveTimeout is called with the returned id.
	AddTimeout(interval Interval, cb TimeoutFunc) TimeoutID
	// RemoveTimeout cancels a timeout registered with AddTimeout.
	RemoveTimeout(id TimeoutID)
}
