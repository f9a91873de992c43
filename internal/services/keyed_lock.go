package services

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyedLock serializes work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe; that only costs parallelism.
type keyedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyedLock) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}

// Lock locks key and returns the matching unlock func
func (l *keyedLock) Lock(key string) func() {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}
