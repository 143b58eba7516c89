package repository

import (
	"context"
	"errors"

	"complianceflow/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by Save when the stored version differs
	// from the version the caller read.
	ErrVersionConflict = errors.New("version conflict")
)

// InstanceStore persists workflow instances.
type InstanceStore interface {
	// Get retrieves an instance by its ID.
	Get(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// Save atomically writes the instance. A zero Version inserts a new
	// record; otherwise the stored version must equal instance.Version.
	// On success instance.Version holds the new stored version.
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	// List returns instances matching the filter, newest first.
	List(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error)
}

// TemplateStore persists workflow templates.
type TemplateStore interface {
	// SaveTemplate inserts or replaces a template.
	SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	// ListTemplates returns every stored template.
	ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error)
}
