// Package handler exposes the assignment engine over HTTP.
package handler

import (
	"net/http"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/engine"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	engine *engine.Engine
	val    *validator.Validator
}

func New(eng *engine.Engine, val *validator.Validator) *Handler {
	return &Handler{engine: eng, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/transition", h.Transition)
	rg.POST("/heartbeat", h.Heartbeat)
	rg.GET("/sessions", h.ActiveSessions)
	rg.GET("/:id/lease", h.LeaseStatus)
	rg.GET("/:id/history", h.History)
}

func (h *Handler) Transition(c *gin.Context) {
	var req transport.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.engine.RequestTransition(c.Request.Context(), engine.TransitionRequest{
		LeadID:          req.LeadID,
		ActorID:         req.ActorID,
		Role:            domain.Role(req.Role),
		Requested:       domain.Status(req.RequestedStatus),
		TargetAdvisorID: req.AdvisorID,
		Force:           req.Force,

		CommercialCategory:    req.CommercialCategory,
		CommercialSubcategory: req.CommercialSubcategory,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.TransitionResponse{
		Success:                 true,
		NewStatus:               string(result.NewStatus),
		PreviouslyOwnedByTarget: result.PreviouslyOwnedByTarget,
	})
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var req transport.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.engine.Heartbeat(c.Request.Context(), req.LeadID, req.AdvisorID)
	if httpkit.HandleError(c, err) {
		return
	}

	if result.Expired {
		httpkit.OK(c, transport.HeartbeatResponse{Expired: true})
		return
	}
	httpkit.OK(c, transport.HeartbeatResponse{
		Success:      true,
		TTLRemaining: result.TTLRemaining.Seconds(),
	})
}

func (h *Handler) LeaseStatus(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	l, err := h.engine.LeaseStatus(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeaseStatusResponse(l))
}

func (h *Handler) History(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	entries, err := h.engine.History(c.Request.Context(), leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToHistoryResponses(entries))
}

func (h *Handler) ActiveSessions(c *gin.Context) {
	leases, err := h.engine.ActiveSessions(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSessionResponses(leases))
}
