package workflow

import (
	"context"
	"fmt"

	"complianceflow/backend/pkg/models"
)

func builtinStep(order int, id, name string, role models.AssigneeRole, action models.ActionType, hours float64) models.WorkflowStep {
	return models.WorkflowStep{
		ID:                     id,
		Name:                   name,
		StepOrder:              order,
		AssigneeRole:           role,
		ActionType:             action,
		EstimatedDurationHours: hours,
	}
}

// BuiltinTemplates returns the templates every deployment starts with.
func BuiltinTemplates() []*models.WorkflowTemplate {
	return []*models.WorkflowTemplate{
		{
			ID:          "entity-formation",
			Name:        "Entity Formation",
			Description: "Form a new legal entity and file it with the state",
			Category:    models.CategoryEntityFormation,
			Steps: []models.WorkflowStep{
				builtinStep(1, "collect-info", "Collect Entity Information", models.AssigneeRoleAgent, models.ActionTypeProcess, 4),
				builtinStep(2, "review-docs", "Review Formation Documents", models.AssigneeRoleManager, models.ActionTypeReview, 8),
				builtinStep(3, "file-state", "File with Secretary of State", models.AssigneeRoleAuto, models.ActionTypeIntegrate, 24),
				builtinStep(4, "notify-client", "Notify Client", models.AssigneeRoleAuto, models.ActionTypeNotify, 1),
			},
			ApprovalRequired: true,
			SLAHours:         72,
			IsActive:         true,
		},
		{
			ID:          "compliance-review",
			Name:        "Annual Compliance Review",
			Description: "Verify filings, registered agent and good standing",
			Category:    models.CategoryCompliance,
			Steps: []models.WorkflowStep{
				builtinStep(1, "gather-filings", "Gather Filings", models.AssigneeRoleAuto, models.ActionTypeIntegrate, 2),
				builtinStep(2, "assess", "Assess Compliance Status", models.AssigneeRoleAgent, models.ActionTypeReview, 16),
				builtinStep(3, "approve", "Approve Findings", models.AssigneeRoleManager, models.ActionTypeApprove, 8),
				builtinStep(4, "report", "Send Compliance Report", models.AssigneeRoleAuto, models.ActionTypeNotify, 1),
			},
			ApprovalRequired: true,
			SLAHours:         168,
			IsActive:         true,
		},
		{
			ID:          "document-review",
			Name:        "Document Review",
			Description: "Review and approve an uploaded document",
			Category:    models.CategoryDocumentReview,
			Steps: []models.WorkflowStep{
				builtinStep(1, "classify", "Classify Document", models.AssigneeRoleAuto, models.ActionTypeProcess, 0.5),
				builtinStep(2, "review", "Review Document", models.AssigneeRoleAgent, models.ActionTypeReview, 4),
				builtinStep(3, "approve", "Approve Document", models.AssigneeRoleManager, models.ActionTypeApprove, 2),
			},
			ApprovalRequired: true,
			AutoAssign:       true,
			SLAHours:         24,
			IsActive:         true,
		},
		{
			ID:          "payment-processing",
			Name:        "Payment Processing",
			Description: "Verify and settle an incoming payment",
			Category:    models.CategoryPaymentProcessing,
			Steps: []models.WorkflowStep{
				builtinStep(1, "verify", "Verify Payment Details", models.AssigneeRoleAuto, models.ActionTypeReview, 0.5),
				builtinStep(2, "settle", "Settle Payment", models.AssigneeRoleAuto, models.ActionTypeIntegrate, 1),
				builtinStep(3, "receipt", "Send Receipt", models.AssigneeRoleAuto, models.ActionTypeNotify, 0.25),
			},
			AutoAssign: true,
			SLAHours:   8,
			IsActive:   true,
		},
		{
			ID:          "user-onboarding",
			Name:        "User Onboarding",
			Description: "Verify identity and provision a new account",
			Category:    models.CategoryUserOnboarding,
			Steps: []models.WorkflowStep{
				builtinStep(1, "verify-identity", "Verify Identity", models.AssigneeRoleAgent, models.ActionTypeReview, 4),
				builtinStep(2, "provision", "Provision Account", models.AssigneeRoleAuto, models.ActionTypeIntegrate, 1),
				builtinStep(3, "approve-access", "Approve Access", models.AssigneeRoleAdmin, models.ActionTypeApprove, 4),
				builtinStep(4, "welcome", "Send Welcome", models.AssigneeRoleAuto, models.ActionTypeNotify, 0.25),
			},
			ApprovalRequired: true,
			SLAHours:         48,
			IsActive:         true,
		},
	}
}

// RegisterBuiltins registers each built-in template that the catalog does
// not already hold. Existing templates, including edited ones, are left alone.
func RegisterBuiltins(ctx context.Context, catalog *Catalog) (int, error) {
	added := 0
	for _, tmpl := range BuiltinTemplates() {
		if _, err := catalog.Get(tmpl.ID); err == nil {
			continue
		}
		if _, err := catalog.Register(ctx, tmpl); err != nil {
			return added, fmt.Errorf("failed to register %s: %w", tmpl.ID, err)
		}
		added++
	}
	return added, nil
}
