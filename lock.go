package pine

import "sync"

// accessPolicy serializes structural access to a map.
//
// The exclusive policy does nothing: a map constructed with it has a single
// logical owner, so calls are sequential by construction. The shared policy
// guards structural mutation with a lock, which is what lets any number of
// handles insert concurrently while relying on slot addresses never moving.
type accessPolicy interface {
	lock()
	unlock()
	rLock()
	rUnlock()
}

type exclusiveAccess struct{}

func (exclusiveAccess) lock()    {}
func (exclusiveAccess) unlock()  {}
func (exclusiveAccess) rLock()   {}
func (exclusiveAccess) rUnlock() {}

type sharedAccess struct {
	mu sync.RWMutex
}

func (a *sharedAccess) lock()    { a.mu.Lock() }
func (a *sharedAccess) unlock()  { a.mu.Unlock() }
func (a *sharedAccess) rLock()   { a.mu.RLock() }
func (a *sharedAccess) rUnlock() { a.mu.RUnlock() }
