// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadStatusChanged is published after every committed status transition.
type LeadStatusChanged struct {
	BaseEvent
	LeadID    uuid.UUID  `json:"leadId"`
	OldStatus string     `json:"oldStatus"`
	NewStatus string     `json:"newStatus"`
	AdvisorID *uuid.UUID `json:"advisorId,omitempty"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	ActorRole string     `json:"actorRole"`
}

func (e LeadStatusChanged) EventName() string { return "leads.status.changed" }

// LeadSessionExpired is published when an advisor's session lease lapses
// without renewal and the lead is returned to the pickup pool.
type LeadSessionExpired struct {
	BaseEvent
	LeadID    uuid.UUID  `json:"leadId"`
	AdvisorID *uuid.UUID `json:"advisorId,omitempty"`
}

func (e LeadSessionExpired) EventName() string { return "leads.session.expired" }
