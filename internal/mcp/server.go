package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"complianceflow/backend/internal/auth"
	"complianceflow/backend/internal/workflow"
	"complianceflow/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *workflow.Engine
}

func NewServer(engine *workflow.Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"ComplianceFlow Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflow_templates",
			mcp.WithDescription("List the active workflow templates"),
			mcp.WithString("category", mcp.Description("Only return templates in this category")),
		),
		s.handleListTemplates,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a new instance of an active workflow template"),
			mcp.WithString("template_id", mcp.Required(), mcp.Description("The template to instantiate")),
			mcp.WithString("entity_id", mcp.Description("The business entity the workflow concerns")),
			mcp.WithString("user_id", mcp.Description("The user the workflow is started for; defaults to the caller, otherwise the caller is recorded as initiated_by")),
			mcp.WithString("priority", mcp.Description("low, medium, high or urgent"), mcp.Enum("low", "medium", "high", "urgent")),
		),
		s.handleStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_workflow_step",
			mcp.WithDescription("Report the outcome of the current step of a workflow instance"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("The workflow instance")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The step being reported; must be the current step")),
			mcp.WithString("outcome", mcp.Description("completed, failed or skipped"), mcp.Enum("completed", "failed", "skipped")),
			mcp.WithString("notes", mcp.Description("Free-form notes about the step")),
			mcp.WithObject("outputs", mcp.Description("Structured results produced by the step")),
		),
		s.handleCompleteStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"assign_workflow",
			mcp.WithDescription("Assign a workflow instance to an actor, starting it if pending"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("The workflow instance")),
			mcp.WithString("assignee_id", mcp.Required(), mcp.Description("The actor taking the work")),
		),
		s.handleAssign,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_workflow",
			mcp.WithDescription("Cancel a workflow instance that has not finished"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("The workflow instance")),
		),
		s.handleCancel,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Get a workflow instance with its progress and SLA state"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("The workflow instance")),
		),
		s.handleGet,
	)
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := models.Category(request.GetString("category", ""))
	if category != "" && !category.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown category: %s", category)), nil
	}

	templates := s.engine.Catalog().ListActive()
	if category != "" {
		filtered := templates[:0]
		for _, t := range templates {
			if t.Category == category {
				filtered = append(filtered, t)
			}
		}
		templates = filtered
	}
	return jsonResult(templates)
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID, err := request.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: template_id"), nil
	}
	actor, _ := auth.ActorFromContext(ctx)
	userID := request.GetString("user_id", "")
	if userID == "" {
		userID = actor
	}

	inst, err := s.engine.Instantiate(ctx, workflow.InstantiateRequest{
		TemplateID:  templateID,
		EntityID:    request.GetString("entity_id", ""),
		UserID:      userID,
		Priority:    models.Priority(request.GetString("priority", "")),
		InitiatedBy: actor,
	})
	if err != nil {
		return toolError("Failed to start workflow", err)
	}
	return jsonResult(workflow.Describe(inst, s.engine.Now()))
}

func (s *Server) handleCompleteStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}
	stepID, err := request.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	outcome := models.StepOutcome(request.GetString("outcome", string(models.StepOutcomeCompleted)))
	var outputs map[string]any
	if raw, ok := request.GetArguments()["outputs"]; ok && raw != nil {
		if outputs, ok = raw.(map[string]any); !ok {
			return mcp.NewToolResultError("Parameter outputs must be an object"), nil
		}
	}

	inst, err := s.engine.CompleteStep(ctx, instanceID, workflow.StepReport{
		StepID:  stepID,
		Outcome: outcome,
		Notes:   request.GetString("notes", ""),
		Outputs: outputs,
	})
	if err != nil {
		return toolError("Failed to complete step", err)
	}
	return jsonResult(workflow.Describe(inst, s.engine.Now()))
}

func (s *Server) handleAssign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}
	assigneeID, err := request.RequireString("assignee_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: assignee_id"), nil
	}

	inst, err := s.engine.Assign(ctx, instanceID, assigneeID)
	if err != nil {
		return toolError("Failed to assign workflow", err)
	}
	return jsonResult(workflow.Describe(inst, s.engine.Now()))
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}

	inst, err := s.engine.Cancel(ctx, instanceID)
	if err != nil {
		return toolError("Failed to cancel workflow", err)
	}
	return jsonResult(workflow.Describe(inst, s.engine.Now()))
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}

	inst, err := s.engine.Get(ctx, instanceID)
	if err != nil {
		return toolError("Failed to get workflow", err)
	}
	return jsonResult(workflow.Describe(inst, s.engine.Now()))
}

// toolError reports domain failures to the model as tool errors. Anything
// else is an internal failure and is returned as a protocol error.
func toolError(prefix string, err error) (*mcp.CallToolResult, error) {
	for _, known := range []error{
		workflow.ErrInvalidRequest, workflow.ErrTemplateNotFound, workflow.ErrInstanceNotFound,
		workflow.ErrInvalidTransition, workflow.ErrStepMismatch, workflow.ErrConflict,
		workflow.ErrEntityNotFound, workflow.ErrActorNotFound,
	} {
		if errors.Is(err, known) {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", prefix, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers exposes the MCP server over SSE under /mcp. The caller's
// identity from the HTTP request is carried into tool handlers.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if actor, ok := auth.ActorFromContext(r.Context()); ok {
				return auth.WithActor(ctx, actor)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
