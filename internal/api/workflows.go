// Package api contains the HTTP handlers for the workflow service.
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"complianceflow/backend/internal/auth"
	"complianceflow/backend/internal/workflow"
	"complianceflow/backend/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine *workflow.Engine
}

// NewServer creates a new Server.
func NewServer(engine *workflow.Engine) *Server {
	return &Server{Engine: engine}
}

// RegisterHandlers mounts the workflow routes on g.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/templates", s.ListTemplates)
	g.POST("/templates", s.RegisterTemplate)
	g.GET("/templates/:id", s.GetTemplate)
	g.PUT("/templates/:id/active", s.SetTemplateActive)

	g.POST("/instances", s.StartInstance)
	g.GET("/instances", s.ListInstances)
	g.GET("/instances/overdue", s.ListOverdueInstances)
	g.GET("/instances/:id", s.GetInstance)
	g.POST("/instances/:id/steps/:stepId", s.CompleteStep)
	g.POST("/instances/:id/assign", s.AssignInstance)
	g.POST("/instances/:id/cancel", s.CancelInstance)
	g.PATCH("/instances/:id/metadata", s.AnnotateInstance)
}

// ListTemplates returns the active templates
// (GET /api/v1/templates)
func (s *Server) ListTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Engine.Catalog().ListActive())
}

// RegisterTemplate validates and stores a template
// (POST /api/v1/templates)
func (s *Server) RegisterTemplate(c echo.Context) error {
	var tmpl models.WorkflowTemplate
	if err := c.Bind(&tmpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	registered, err := s.Engine.Catalog().Register(c.Request().Context(), &tmpl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, registered)
}

// GetTemplate returns a template, active or not
// (GET /api/v1/templates/{id})
func (s *Server) GetTemplate(c echo.Context) error {
	tmpl, err := s.Engine.Catalog().Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetTemplateActive toggles whether new instances may use a template
// (PUT /api/v1/templates/{id}/active)
func (s *Server) SetTemplateActive(c echo.Context) error {
	var req setActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_active is required")
	}
	tmpl, err := s.Engine.Catalog().SetActive(c.Request().Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

type startRequest struct {
	TemplateID string          `json:"template_id"`
	EntityID   string          `json:"entity_id"`
	UserID     string          `json:"user_id"`
	Priority   models.Priority `json:"priority"`
	Metadata   map[string]any  `json:"metadata"`
}

// StartInstance instantiates a template. The initiating user is the
// authenticated caller unless the body names one, in which case the instance
// is started on that user's behalf and the caller is kept in the metadata as
// initiated_by.
// (POST /api/v1/instances)
func (s *Server) StartInstance(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	if req.UserID == "" {
		req.UserID = actor
	}

	inst, err := s.Engine.Instantiate(c.Request().Context(), workflow.InstantiateRequest{
		TemplateID:  req.TemplateID,
		EntityID:    req.EntityID,
		UserID:      req.UserID,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
		InitiatedBy: actor,
	})
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/instances/"+inst.ID)
	return c.JSON(http.StatusCreated, s.view(inst))
}

type listParams struct {
	TemplateID *string  `form:"template_id"`
	UserID     *string  `form:"user_id"`
	EntityID   *string  `form:"entity_id"`
	AssignedTo *string  `form:"assigned_to"`
	Status     []string `form:"status"`
	Limit      *int     `form:"limit"`
	Offset     *int     `form:"offset"`
}

func bindListParams(c echo.Context) (listParams, error) {
	var p listParams
	query := c.QueryParams()
	bindings := []struct {
		name string
		dest any
	}{
		{"template_id", &p.TemplateID},
		{"user_id", &p.UserID},
		{"entity_id", &p.EntityID},
		{"assigned_to", &p.AssignedTo},
		{"status", &p.Status},
		{"limit", &p.Limit},
		{"offset", &p.Offset},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			return p, echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+b.name+": "+err.Error())
		}
	}
	return p, nil
}

func (p listParams) filter() (models.InstanceFilter, error) {
	f := models.InstanceFilter{Limit: defaultPageSize}
	f.TemplateID = deref(p.TemplateID)
	f.UserID = deref(p.UserID)
	f.EntityID = deref(p.EntityID)
	f.AssignedTo = deref(p.AssignedTo)
	for _, raw := range p.Status {
		for _, part := range strings.Split(raw, ",") {
			status := models.InstanceStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return f, echo.NewHTTPError(http.StatusBadRequest, "unknown status "+string(status))
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if p.Limit != nil {
		if *p.Limit < 1 || *p.Limit > maxPageSize {
			return f, echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		f.Limit = *p.Limit
	}
	if p.Offset != nil {
		if *p.Offset < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "offset must not be negative")
		}
		f.Offset = *p.Offset
	}
	return f, nil
}

// ListInstances returns instances matching the query filters, newest first
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context) error {
	params, err := bindListParams(c)
	if err != nil {
		return err
	}
	filter, err := params.filter()
	if err != nil {
		return err
	}
	instances, err := s.Engine.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.views(instances))
}

// ListOverdueInstances returns the active instances past their due date
// (GET /api/v1/instances/overdue)
func (s *Server) ListOverdueInstances(c echo.Context) error {
	instances, err := s.Engine.ListOverdue(c.Request().Context(), s.Engine.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.views(instances))
}

// GetInstance returns an instance with its progress and SLA state
// (GET /api/v1/instances/{id})
func (s *Server) GetInstance(c echo.Context) error {
	inst, err := s.Engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(inst))
}

type stepReportRequest struct {
	Outcome models.StepOutcome `json:"outcome"`
	Notes   string             `json:"notes"`
	Outputs map[string]any     `json:"outputs"`
}

// CompleteStep records the outcome of the instance's current step
// (POST /api/v1/instances/{id}/steps/{stepId})
func (s *Server) CompleteStep(c echo.Context) error {
	var req stepReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Outcome == "" {
		req.Outcome = models.StepOutcomeCompleted
	}
	inst, err := s.Engine.CompleteStep(c.Request().Context(), c.Param("id"), workflow.StepReport{
		StepID:  c.Param("stepId"),
		Outcome: req.Outcome,
		Notes:   req.Notes,
		Outputs: req.Outputs,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(inst))
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// AssignInstance binds an actor to the instance
// (POST /api/v1/instances/{id}/assign)
func (s *Server) AssignInstance(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	inst, err := s.Engine.Assign(c.Request().Context(), c.Param("id"), req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(inst))
}

// CancelInstance stops tracking an instance
// (POST /api/v1/instances/{id}/cancel)
func (s *Server) CancelInstance(c echo.Context) error {
	inst, err := s.Engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(inst))
}

// AnnotateInstance merges audit metadata into the instance
// (PATCH /api/v1/instances/{id}/metadata)
func (s *Server) AnnotateInstance(c echo.Context) error {
	var metadata map[string]any
	// BindBody keeps path parameters out of the map.
	if err := (&echo.DefaultBinder{}).BindBody(c, &metadata); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	inst, err := s.Engine.Annotate(c.Request().Context(), c.Param("id"), metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(inst))
}

func (s *Server) view(inst *models.WorkflowInstance) workflow.InstanceView {
	return workflow.Describe(inst, s.Engine.Now())
}

func (s *Server) views(instances []*models.WorkflowInstance) []workflow.InstanceView {
	now := s.Engine.Now()
	out := make([]workflow.InstanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, workflow.Describe(inst, now))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
