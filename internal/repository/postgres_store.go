package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"complianceflow/backend/pkg/models"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables used by the Postgres stores if they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresInstanceStore is a PostgreSQL implementation of the InstanceStore interface.
// The full instance document lives in a JSONB column; the columns beside it
// exist for filtering and are rewritten on every save.
type PostgresInstanceStore struct {
	db *pgxpool.Pool
}

// NewPostgresInstanceStore creates a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *pgxpool.Pool) *PostgresInstanceStore {
	return &PostgresInstanceStore{db: db}
}

// Get retrieves an instance by its ID.
func (s *PostgresInstanceStore) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var (
		body    []byte
		version int64
	)
	err := s.db.QueryRow(ctx, "SELECT body, version FROM workflow_instances WHERE id = $1", id).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", id, err)
	}
	return decodeInstance(body, version)
}

// Save inserts or updates the instance in a single statement, checking the version.
func (s *PostgresInstanceStore) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	body, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", instance.ID, err)
	}

	if instance.Version == 0 {
		tag, err := s.db.Exec(ctx, `
			INSERT INTO workflow_instances
				(id, template_id, user_id, entity_id, assigned_to, status, priority, current_step,
				 started_at, due_date, completed_at, body, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, now())
			ON CONFLICT (id) DO NOTHING`,
			instance.ID, instance.TemplateID, instance.UserID, nullable(instance.EntityID),
			nullable(instance.AssignedTo), string(instance.Status), string(instance.Priority),
			instance.CurrentStep, instance.StartedAt, instance.DueDate, instance.CompletedAt, body)
		if err != nil {
			return fmt.Errorf("failed to insert instance %s: %w", instance.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("instance %s already exists: %w", instance.ID, ErrVersionConflict)
		}
		instance.Version = 1
		return nil
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_instances
		SET assigned_to = $2, status = $3, priority = $4, current_step = $5,
		    completed_at = $6, body = $7, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $8`,
		instance.ID, nullable(instance.AssignedTo), string(instance.Status), string(instance.Priority),
		instance.CurrentStep, instance.CompletedAt, body, instance.Version)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)", instance.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check instance %s: %w", instance.ID, err)
		}
		if !exists {
			return fmt.Errorf("instance %s: %w", instance.ID, ErrNotFound)
		}
		return fmt.Errorf("instance %s changed since version %d: %w", instance.ID, instance.Version, ErrVersionConflict)
	}
	instance.Version++
	return nil
}

// List returns instances matching the filter, newest first.
func (s *PostgresInstanceStore) List(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TemplateID != "" {
		add("template_id = $%d", filter.TemplateID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.PendingEvents {
		where = append(where, "body ? 'pending_events'")
	}

	query := "SELECT body, version FROM workflow_instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance
	for rows.Next() {
		var (
			body    []byte
			version int64
		)
		if err := rows.Scan(&body, &version); err != nil {
			return nil, err
		}
		inst, err := decodeInstance(body, version)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func decodeInstance(body []byte, version int64) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	if err := json.Unmarshal(body, &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}
	inst.Version = version
	return &inst, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PostgresTemplateStore is a PostgreSQL implementation of the TemplateStore interface.
type PostgresTemplateStore struct {
	db *pgxpool.Pool
}

// NewPostgresTemplateStore creates a new PostgresTemplateStore.
func NewPostgresTemplateStore(db *pgxpool.Pool) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

// SaveTemplate inserts or replaces a template.
func (s *PostgresTemplateStore) SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to encode template %s: %w", template.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_templates (id, name, category, is_active, in_use, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, is_active = EXCLUDED.is_active,
		    in_use = EXCLUDED.in_use, body = EXCLUDED.body, updated_at = now()`,
		template.ID, template.Name, string(template.Category), template.IsActive, template.InUse, body, template.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}
	return nil
}

// ListTemplates returns every stored template ordered by ID.
func (s *PostgresTemplateStore) ListTemplates(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	rows, err := s.db.Query(ctx, "SELECT body FROM workflow_templates ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.WorkflowTemplate
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t models.WorkflowTemplate
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}
