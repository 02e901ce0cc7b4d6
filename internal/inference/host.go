package inference

import "sync"

// Host lets an embedding environment release and reacquire its own
// coordination lock around the core's work. Detach wraps compute-heavy
// model calls; Attach wraps calls back into caller code.
type Host interface {
	Detach(fn func())
	Attach(fn func())
}

type NopHost struct{}

func (NopHost) Detach(fn func()) { fn() }
func (NopHost) Attach(fn func()) { fn() }

// LockerHost models a host-wide lock held by the caller for the duration of
// Generate. The lock is released while the model computes so unrelated host
// work can proceed.
type LockerHost struct {
	L sync.Locker
}

func (h LockerHost) Detach(fn func()) {
	h.L.Unlock()
	defer h.L.Lock()
	fn()
}

// Attach runs fn directly: the caller already holds the lock outside Detach.
func (h LockerHost) Attach(fn func()) { fn() }
