package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complianceflow/backend/internal/auth"
	"complianceflow/backend/internal/repository"
	"complianceflow/backend/internal/workflow"
	"complianceflow/backend/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	catalog := workflow.NewCatalog(repository.NewMemoryTemplateStore(), workflow.SystemClock{})
	_, err := catalog.Register(context.Background(), &models.WorkflowTemplate{
		ID:       "payment-processing",
		Name:     "Payment Processing",
		Category: models.CategoryPaymentProcessing,
		SLAHours: 8,
		IsActive: true,
		Steps: []models.WorkflowStep{
			{ID: "verify", Name: "Verify Payment", StepOrder: 1, AssigneeRole: models.AssigneeRoleAgent, ActionType: models.ActionTypeReview},
			{ID: "settle", Name: "Settle", StepOrder: 2, AssigneeRole: models.AssigneeRoleAuto, ActionType: models.ActionTypeIntegrate},
		},
	})
	require.NoError(t, err)
	return NewServer(workflow.NewEngine(catalog, repository.NewMemoryInstanceStore()))
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

type instanceView struct {
	models.WorkflowInstance
	Progress int `json:"progress"`
}

func decodeInstance(t *testing.T, res *mcp.CallToolResult) instanceView {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var view instanceView
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &view))
	return view
}

func TestWorkflowTools(t *testing.T) {
	s := newTestServer(t)
	ctx := auth.WithActor(context.Background(), "ops@acme.com")

	res, err := s.handleListTemplates(ctx, call("list_workflow_templates", map[string]any{"category": "payment_processing"}))
	require.NoError(t, err)
	var templates []models.WorkflowTemplate
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &templates))
	require.Len(t, templates, 1)

	res, err = s.handleListTemplates(ctx, call("list_workflow_templates", map[string]any{"category": "compliance"}))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, res))

	res, err = s.handleStart(ctx, call("start_workflow", map[string]any{"template_id": "payment-processing", "priority": "urgent"}))
	require.NoError(t, err)
	started := decodeInstance(t, res)
	assert.Equal(t, "ops@acme.com", started.UserID)
	assert.Equal(t, models.PriorityUrgent, started.Priority)

	res, err = s.handleAssign(ctx, call("assign_workflow", map[string]any{"instance_id": started.ID, "assignee_id": "agent-2"}))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, decodeInstance(t, res).Status)

	res, err = s.handleCompleteStep(ctx, call("complete_workflow_step", map[string]any{
		"instance_id": started.ID,
		"step_id":     "verify",
		"outputs":     map[string]any{"reference": "PAY-881", "amount": 120.5},
	}))
	require.NoError(t, err)
	verified := decodeInstance(t, res)
	assert.Equal(t, 50, verified.Progress)
	require.Len(t, verified.StepHistory, 1)
	assert.Equal(t, map[string]any{"reference": "PAY-881", "amount": 120.5}, verified.StepHistory[0].Outputs)

	res, err = s.handleCompleteStep(ctx, call("complete_workflow_step", map[string]any{"instance_id": started.ID, "step_id": "settle", "outcome": "failed", "notes": "bank rejected"}))
	require.NoError(t, err)
	failed := decodeInstance(t, res)
	assert.Equal(t, models.InstanceStatusFailed, failed.Status)
	assert.Equal(t, "bank rejected", failed.StepHistory[1].Notes)

	res, err = s.handleCancel(ctx, call("cancel_workflow", map[string]any{"instance_id": started.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "invalid transition")

	res, err = s.handleGet(ctx, call("get_workflow", map[string]any{"instance_id": started.ID}))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, decodeInstance(t, res).Status)
}

func TestWorkflowToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleStart(ctx, call("start_workflow", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleStart(ctx, call("start_workflow", map[string]any{"template_id": "payment-processing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "a caller without identity must name a user")

	res, err = s.handleGet(ctx, call("get_workflow", map[string]any{"instance_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "instance not found")

	res, err = s.handleListTemplates(ctx, call("list_workflow_templates", map[string]any{"category": "taxes"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleStart(ctx, call("start_workflow", map[string]any{"template_id": "payment-processing", "user_id": "u-1"}))
	require.NoError(t, err)
	started := decodeInstance(t, res)

	res, err = s.handleCompleteStep(ctx, call("complete_workflow_step", map[string]any{"instance_id": started.ID, "step_id": "verify", "outputs": "PAY-881"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "outputs must be an object")
}

func TestStartOnBehalfOfAnotherUser(t *testing.T) {
	s := newTestServer(t)
	ctx := auth.WithActor(context.Background(), "ops@acme.com")

	res, err := s.handleStart(ctx, call("start_workflow", map[string]any{"template_id": "payment-processing", "user_id": "customer-7"}))
	require.NoError(t, err)
	inst := decodeInstance(t, res)
	assert.Equal(t, "customer-7", inst.UserID)
	assert.Equal(t, "ops@acme.com", inst.Metadata[workflow.MetadataInitiatedBy])

	res, err = s.handleStart(ctx, call("start_workflow", map[string]any{"template_id": "payment-processing"}))
	require.NoError(t, err)
	own := decodeInstance(t, res)
	assert.Equal(t, "ops@acme.com", own.UserID)
	assert.NotContains(t, own.Metadata, workflow.MetadataInitiatedBy)
}
