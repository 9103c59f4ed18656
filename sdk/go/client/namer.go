package client

import (
	"strconv"
	"sync"
)

// namer hands out entity names that are unique within one World.
type namer struct {
	mu     sync.Mutex
	nextID uint64
	used   map[string]struct{}
}

func newNamer() *namer {
	return &namer{used: make(map[string]struct{})}
}

// allocate reserves preferred, or preferred_N when it is taken, or entity_N when preferred is empty.
func (n *namer) allocate(preferred string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if preferred != "" {
		if n.claim(preferred) {
			return preferred
		}
		for suffix := 1; ; suffix++ {
			if candidate := preferred + "_" + strconv.Itoa(suffix); n.claim(candidate) {
				return candidate
			}
		}
	}
	for {
		n.nextID++
		if candidate := "entity_" + strconv.FormatUint(n.nextID, 10); n.claim(candidate) {
			return candidate
		}
	}
}

func (n *namer) claim(name string) bool {
	if _, taken := n.used[name]; taken {
		return false
	}
	n.used[name] = struct{}{}
	return true
}

func (n *namer) release(name string) {
	n.mu.Lock()
	delete(n.used, name)
	n.mu.Unlock()
}

func (n *namer) reset() {
	n.mu.Lock()
	n.used = make(map[string]struct{})
	n.mu.Unlock()
}
