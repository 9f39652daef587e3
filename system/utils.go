package system

import "sync"

// AtomicBool allows for reading/writing to a given struct field without having
// to worry about a potential race condition scenario. Under the hood it uses a
// simple sync.RWMutex to control access to the value.
type AtomicBool struct {
	v  bool
	mu sync.RWMutex
}

func NewAtomicBool(v bool) *AtomicBool {
	return &AtomicBool{v: v}
}

// Store stores the value v.
func (ab *AtomicBool) Store(v bool) {
	ab.mu.Lock()
	ab.v = v
	ab.mu.Unlock()
}

// SwapIf stores the value v if the current value stored in the AtomicBool is
// the opposite boolean value. If successfully swapped the response is true,
// otherwise false is returned.
func (ab *AtomicBool) SwapIf(v bool) bool {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.v != v {
		ab.v = v
		return true
	}
	return false
}

// Load loads the current value.
func (ab *AtomicBool) Load() bool {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.v
}
