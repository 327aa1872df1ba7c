package handler

import (
	"net/http"

	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/service"
	"safereport_backend/internal/cases/transport"
	"safereport_backend/platform/apperr"
	"safereport_backend/platform/httpkit"
	"safereport_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidRequest = "invalid request"

// Handler handles HTTP requests for cases
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new cases handler
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the authenticated case routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", httpkit.RequireAnyRole(string(domain.RoleReporter)), h.Create)
	rg.GET("/:id", h.GetByID)
	rg.GET("/:id/audit", h.GetAuditTrail)
	rg.POST("/:id/transitions", h.ApplyTransition)
}

// Intake handles POST /api/v1/intake. Anonymous reports carry no reporter.
func (h *Handler) Intake(c *gin.Context) {
	var req transport.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	h.create(c, req, nil)
}

// Create handles POST /api/v1/cases for a signed-in reporter
func (h *Handler) Create(c *gin.Context) {
	var req transport.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	reporterID := identity.UserID()
	h.create(c, req, &reporterID)
}

func (h *Handler) create(c *gin.Context, req transport.IntakeRequest, reporterID *uuid.UUID) {
	if httpkit.HandleError(c, h.val.Struct(req)) {
		return
	}

	created, err := h.svc.CreateCase(c.Request.Context(), req.ToIntake(reporterID))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.IntakeResponse{
		ID:     created.ID,
		Code:   created.Code,
		Status: string(created.Status),
	})
}

// GetByID handles GET /api/v1/cases/:id
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseCaseID(c)
	if !ok {
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	snap, err := h.svc.ViewSnapshot(c.Request.Context(), id, actor)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewSnapshotResponse(snap, actor.Role))
}

// GetAuditTrail handles GET /api/v1/cases/:id/audit
func (h *Handler) GetAuditTrail(c *gin.Context) {
	id, ok := parseCaseID(c)
	if !ok {
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	entries, err := h.svc.ViewAuditTrail(c.Request.Context(), id, actor)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewAuditTrailResponse(entries))
}

// ApplyTransition handles POST /api/v1/cases/:id/transitions
func (h *Handler) ApplyTransition(c *gin.Context) {
	id, ok := parseCaseID(c)
	if !ok {
		return
	}

	var req transport.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if httpkit.HandleError(c, h.val.Struct(req)) {
		return
	}

	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	intent, err := domain.ParseIntent(req.Intent)
	if err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	var expected *domain.Status
	if req.ExpectedStatus != nil {
		status, err := domain.ParseStatus(*req.ExpectedStatus)
		if err != nil {
			httpkit.HandleError(c, apperr.Validation(err.Error()))
			return
		}
		expected = &status
	}

	result, err := h.svc.Apply(c.Request.Context(), service.TransitionRequest{
		CaseID:         id,
		Intent:         intent,
		Actor:          actor,
		Payload:        req.Payload,
		ExpectedStatus: expected,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.TransitionResponse{
		Status:       string(result.Status),
		AuditEntryID: result.AuditEntryID,
		Seq:          result.Seq,
	})
}

func parseCaseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

// actorRoles is the precedence used when a token carries several roles.
var actorRoles = []domain.Role{domain.RoleAdmin, domain.RolePsychologist, domain.RoleReporter}

// actorFromContext turns the authenticated identity into an explicit actor.
// The system role is never granted over HTTP.
func actorFromContext(c *gin.Context) (domain.Actor, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return domain.Actor{}, false
	}
	for _, role := range actorRoles {
		if identity.HasRole(string(role)) {
			return domain.Actor{ID: identity.UserID(), Role: role}, true
		}
	}
	c.AbortWithStatusJSON(http.StatusForbidden, httpkit.ErrorResponse{Error: "forbidden", Code: "forbidden"})
	return domain.Actor{}, false
}
