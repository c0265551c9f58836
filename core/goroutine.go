package core

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// goroutineID returns the current goroutine's ID.
// This parses runtime.Stack and is only used for thread-affinity checks.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace starts with "goroutine NNN ["
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// affinity records the main goroutine plus the goroutines that iter.Pull
// spins up for routines stepped on its behalf. A routine body runs on its
// own coroutine goroutine but is logically on main while it is being pulled.
type affinity struct {
	main     atomic.Uint64
	borrowed sync.Map // map[uint64]struct{}
}

func (a *affinity) bind() {
	a.main.Store(goroutineID())
}

func (a *affinity) isCurrent() bool {
	if a == nil {
		return false
	}
	id := goroutineID()
	if id == a.main.Load() {
		return true
	}
	_, ok := a.borrowed.Load(id)
	return ok
}

// adopt wraps r so that its body registers as main-affine while it runs.
func (a *affinity) adopt(r Routine) Routine {
	if a == nil {
		return r
	}
	return func(yield func(any) bool) {
		id := goroutineID()
		a.borrowed.Store(id, struct{}{})
		defer a.borrowed.Delete(id)
		r(yield)
	}
}
