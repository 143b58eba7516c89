package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"complianceflow/backend/pkg/models"
)

// MemoryInstanceStore is an in-process InstanceStore used in development and tests.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]*models.WorkflowInstance
}

// NewMemoryInstanceStore creates an empty MemoryInstanceStore.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[string]*models.WorkflowInstance)}
}

// Get retrieves an instance by its ID.
func (s *MemoryInstanceStore) Get(_ context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return inst.Clone(), nil
}

// Save writes the instance if its version matches the stored one.
func (s *MemoryInstanceStore) Save(_ context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.instances[instance.ID]
	switch {
	case instance.Version == 0 && exists:
		return fmt.Errorf("instance %s already exists: %w", instance.ID, ErrVersionConflict)
	case instance.Version != 0 && !exists:
		return fmt.Errorf("instance %s: %w", instance.ID, ErrNotFound)
	case exists && current.Version != instance.Version:
		return fmt.Errorf("instance %s at version %d, have %d: %w",
			instance.ID, current.Version, instance.Version, ErrVersionConflict)
	}

	stored := instance.Clone()
	stored.Version++
	s.instances[instance.ID] = stored
	instance.Version = stored.Version
	return nil
}

// List returns instances matching the filter, newest first.
func (s *MemoryInstanceStore) List(_ context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	s.mu.RLock()
	matched := make([]*models.WorkflowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			matched = append(matched, inst.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// MemoryTemplateStore is an in-process TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*models.WorkflowTemplate
}

// NewMemoryTemplateStore creates an empty MemoryTemplateStore.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*models.WorkflowTemplate)}
}

// SaveTemplate inserts or replaces a template.
func (s *MemoryTemplateStore) SaveTemplate(_ context.Context, template *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[template.ID] = template.Clone()
	return nil
}

// ListTemplates returns every stored template ordered by ID.
func (s *MemoryTemplateStore) ListTemplates(_ context.Context) ([]*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.WorkflowTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
