package bufnet

import "time"

// Watcher is an armed readiness registration. Stop deregisters it
// synchronously: once Stop returns, the callback will not run again.
type Watcher interface {
	Stop()
}

// Timer is an armed one-shot timer. Stop is synchronous in the same sense as
// Watcher.Stop and is a no-op after the timer has fired.
type Timer interface {
	Stop()
}

// Reactor is the event loop a Conn hangs its readiness watchers and timers
// on. Poller is the in-tree implementation; anything driving callbacks from
// a single goroutine with synchronous deregistration satisfies it.
//
// All Reactor methods, and every method on the Conns bound to it, must be
// called from the loop goroutine. Use Poller.Submit to marshal work there
// from other goroutines.
type Reactor interface {
	// WatchRead arms fn to run whenever fd is readable.
	WatchRead(fd int, fn func()) (Watcher, error)

	// WatchWrite arms fn to run whenever fd is writable.
	WatchWrite(fd int, fn func()) (Watcher, error)

	// AddTimer arms fn to run once after d.
	AddTimer(d time.Duration, fn func()) (Timer, error)
}
