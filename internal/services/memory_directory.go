package services

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process directory, used in development and tests.
type MemoryDirectory struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryDirectory creates a MemoryDirectory containing ids.
func NewMemoryDirectory(ids ...string) *MemoryDirectory {
	d := &MemoryDirectory{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

// Add registers id.
func (d *MemoryDirectory) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

func (d *MemoryDirectory) Exists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[id]
	return ok, nil
}
