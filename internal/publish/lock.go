package publish

import (
	"fmt"
	"os"
	"sync"
)

// lockRegistry serializes publishes per destination path. The in-process
// mutex covers overlapping runs inside one daemon; the lock file guards
// against a second blogpipe process targeting the same destination.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var sharedLocks = &lockRegistry{locks: make(map[string]*sync.Mutex)}

func (r *lockRegistry) acquire(dest string) (func(), error) {
	r.mu.Lock()
	m, ok := r.locks[dest]
	if !ok {
		m = &sync.Mutex{}
		r.locks[dest] = m
	}
	r.mu.Unlock()

	m.Lock()

	lockPath := dest + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		m.Unlock()
		if os.IsExist(err) {
			return nil, fmt.Errorf("destination %s is locked by another publisher (%s)", dest, lockPath)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	return func() {
		_ = os.Remove(lockPath)
		m.Unlock()
	}, nil
}
