package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"complianceflow/backend/internal/repository"
	"complianceflow/backend/pkg/models"
)

// Catalog holds the registered workflow templates. It is read-mostly: the
// engine only reads from it, admin configuration writes to it.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*models.WorkflowTemplate
	store     repository.TemplateStore
	clock     Clock
}

// NewCatalog creates a Catalog. store may be nil, in which case templates
// live only in memory.
func NewCatalog(store repository.TemplateStore, clock Clock) *Catalog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Catalog{
		templates: make(map[string]*models.WorkflowTemplate),
		store:     store,
		clock:     clock,
	}
}

// Load replaces the in-memory catalog with the contents of the template store.
// Stored templates that no longer validate are skipped and reported.
func (c *Catalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	loaded := make(map[string]*models.WorkflowTemplate, len(stored))
	var bad []string
	for _, t := range stored {
		if err := ValidateTemplate(t); err != nil {
			bad = append(bad, fmt.Sprintf("%s (%v)", t.ID, err))
			continue
		}
		normalized := t.Clone()
		sortSteps(normalized.Steps)
		loaded[t.ID] = normalized
	}

	c.mu.Lock()
	c.templates = loaded
	c.mu.Unlock()

	if len(bad) > 0 {
		return fmt.Errorf("%w: skipped stored templates: %s", ErrInvalidTemplate, strings.Join(bad, "; "))
	}
	return nil
}

// Register validates and stores a template. Registering an ID that already
// exists replaces it, unless instances already reference it.
func (c *Catalog) Register(ctx context.Context, template *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if err := ValidateTemplate(template); err != nil {
		return nil, err
	}

	stored := template.Clone()
	sortSteps(stored.Steps)
	stored.InUse = false

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.templates[stored.ID]; ok {
		if existing.InUse {
			return nil, fmt.Errorf("template %s: %w", stored.ID, ErrTemplateInUse)
		}
		stored.CreatedAt = existing.CreatedAt
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = c.clock.Now()
	}

	if c.store != nil {
		if err := c.store.SaveTemplate(ctx, stored); err != nil {
			return nil, fmt.Errorf("failed to persist template %s: %w", stored.ID, err)
		}
	}
	c.templates[stored.ID] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the template with the given ID.
func (c *Catalog) Get(id string) (*models.WorkflowTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	return t.Clone(), nil
}

// ListActive returns every active template, ordered by name.
func (c *Catalog) ListActive() []*models.WorkflowTemplate {
	c.mu.RLock()
	out := make([]*models.WorkflowTemplate, 0, len(c.templates))
	for _, t := range c.templates {
		if t.IsActive {
			out = append(out, t.Clone())
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SetActive toggles whether new instances may be started from the template.
// Existing instances are unaffected.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowTemplate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	if t.IsActive == active {
		return t.Clone(), nil
	}
	updated := t.Clone()
	updated.IsActive = active
	if c.store != nil {
		if err := c.store.SaveTemplate(ctx, updated); err != nil {
			return nil, fmt.Errorf("failed to persist template %s: %w", id, err)
		}
	}
	c.templates[id] = updated
	return updated.Clone(), nil
}

// markInUse freezes the template's definition once an instance references it.
func (c *Catalog) markInUse(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.templates[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, ErrTemplateNotFound)
	}
	if t.InUse {
		return nil
	}
	updated := t.Clone()
	updated.InUse = true
	if c.store != nil {
		if err := c.store.SaveTemplate(ctx, updated); err != nil {
			return fmt.Errorf("failed to persist template %s: %w", id, err)
		}
	}
	c.templates[id] = updated
	return nil
}

// ValidateTemplate checks a template definition without registering it.
func ValidateTemplate(t *models.WorkflowTemplate) error {
	if t == nil {
		return invalid("", "required", "template is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return invalid("id", "required", "must not be empty")
	}
	if strings.TrimSpace(t.Name) == "" {
		return invalid("name", "required", "must not be empty")
	}
	if !t.Category.Valid() {
		return invalid("category", "enum", "unknown category %q", t.Category)
	}
	if !(t.SLAHours > 0) {
		return invalid("sla_hours", "positive", "must be greater than zero, got %v", t.SLAHours)
	}
	if t.SLAHours > MaxSLAHours {
		return invalid("sla_hours", "range", "must not exceed %v hours, got %v", MaxSLAHours, t.SLAHours)
	}
	if len(t.Steps) == 0 {
		return invalid("steps", "required", "template needs at least one step")
	}

	ids := make(map[string]bool, len(t.Steps))
	orders := make(map[int]bool, len(t.Steps))
	for i, s := range t.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			return invalid(path+".id", "required", "must not be empty")
		}
		if ids[s.ID] {
			return invalid(path+".id", "unique", "duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
		if strings.TrimSpace(s.Name) == "" {
			return invalid(path+".name", "required", "must not be empty")
		}
		if !s.AssigneeRole.Valid() {
			return invalid(path+".assignee_role", "enum", "unknown assignee role %q", s.AssigneeRole)
		}
		if !s.ActionType.Valid() {
			return invalid(path+".action_type", "enum", "unknown action type %q", s.ActionType)
		}
		if s.EstimatedDurationHours < 0 {
			return invalid(path+".estimated_duration_hours", "non_negative", "must not be negative")
		}
		if s.StepOrder < 1 || s.StepOrder > len(t.Steps) {
			return invalid(path+".step_order", "contiguous", "step_order %d outside 1..%d", s.StepOrder, len(t.Steps))
		}
		if orders[s.StepOrder] {
			return invalid(path+".step_order", "unique", "duplicate step_order %d", s.StepOrder)
		}
		orders[s.StepOrder] = true
	}
	return nil
}

func sortSteps(steps []models.WorkflowStep) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}

