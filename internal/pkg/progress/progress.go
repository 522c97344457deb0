// Package progress tracks upload progress per dataset path.
package progress

import "sync"

type Tracker struct {
	mu      sync.RWMutex
	percent map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{percent: make(map[string]int)}
}

// Set records percent for path, clamped to [0, 100].
func (t *Tracker) Set(path string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	t.percent[path] = percent
	t.mu.Unlock()
}

// Get returns the last recorded percent and whether path is known.
func (t *Tracker) Get(path string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.percent[path]
	return p, ok
}

func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	delete(t.percent, path)
	t.mu.Unlock()
}

// Snapshot 返回当前所有进度的副本
func (t *Tracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.percent))
	for k, v := range t.percent {
		out[k] = v
	}
	return out
}
