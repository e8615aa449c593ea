// Package transport defines the request/response contracts between the REST
// layer and the assignment engine.
package transport

import (
	"time"

	"leadflow_backend/internal/leads/lease"
	"leadflow_backend/internal/leads/repository"

	"github.com/google/uuid"
)

// Request DTOs

type TransitionRequest struct {
	LeadID          uuid.UUID  `json:"leadId" validate:"required"`
	ActorID         uuid.UUID  `json:"actorId" validate:"required"`
	Role            string     `json:"role" validate:"required,oneof=asesor gtr admin"`
	RequestedStatus string     `json:"requestedStatus" validate:"required,oneof=nuevo derivado en_gestion gestionado no_gestionado cerrado lista_negra"`
	AdvisorID       *uuid.UUID `json:"advisorId,omitempty" validate:"-"`
	Force           bool       `json:"force,omitempty"`

	// Commercial outcome, accepted on the closing transitions.
	CommercialCategory    *string `json:"commercialCategory,omitempty" validate:"omitempty,max=120"`
	CommercialSubcategory *string `json:"commercialSubcategory,omitempty" validate:"omitempty,max=120"`
}

type HeartbeatRequest struct {
	LeadID    uuid.UUID `json:"leadId" validate:"required"`
	AdvisorID uuid.UUID `json:"advisorId" validate:"required"`
}

// Response DTOs

type TransitionResponse struct {
	Success                 bool   `json:"success"`
	NewStatus               string `json:"newStatus"`
	PreviouslyOwnedByTarget bool   `json:"previouslyOwnedByTarget,omitempty"`
}

type HeartbeatResponse struct {
	Success      bool    `json:"success"`
	TTLRemaining float64 `json:"ttlRemaining,omitempty"`
	Expired      bool    `json:"expired,omitempty"`
}

type LeaseStatusResponse struct {
	Active    bool       `json:"active"`
	AdvisorID *uuid.UUID `json:"advisorId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type SessionResponse struct {
	LeadID    uuid.UUID `json:"leadId"`
	AdvisorID uuid.UUID `json:"advisorId"`
	StartedAt time.Time `json:"startedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type HistoryEntryResponse struct {
	ID         uuid.UUID  `json:"id"`
	LeadID     uuid.UUID  `json:"leadId"`
	AdvisorID  *uuid.UUID `json:"advisorId,omitempty"`
	FromStatus string     `json:"fromStatus"`
	ToStatus   string     `json:"toStatus"`
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
	ActorRole  string     `json:"actorRole"`
	EventType  string     `json:"eventType"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Mappers

func ToLeaseStatusResponse(l *lease.Lease) LeaseStatusResponse {
	if l == nil {
		return LeaseStatusResponse{}
	}
	expires := l.ExpiresAt
	advisor := l.AdvisorID
	return LeaseStatusResponse{
		Active:    true,
		AdvisorID: &advisor,
		ExpiresAt: &expires,
	}
}

func ToSessionResponses(leases []lease.Lease) []SessionResponse {
	out := make([]SessionResponse, 0, len(leases))
	for _, l := range leases {
		out = append(out, SessionResponse{
			LeadID:    l.LeadID,
			AdvisorID: l.AdvisorID,
			StartedAt: l.StartedAt,
			ExpiresAt: l.ExpiresAt,
		})
	}
	return out
}

func ToHistoryResponses(entries []repository.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			ID:         e.ID,
			LeadID:     e.LeadID,
			AdvisorID:  e.AdvisorID,
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorID:    e.ActorID,
			ActorRole:  e.ActorRole,
			EventType:  e.EventType,
			Timestamp:  e.CreatedAt,
		})
	}
	return out
}
