// Package engine orchestrates lead status transitions: rule evaluation,
// session leases, the audit history, and change notifications, composed as
// one logical unit per lead.
package engine

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/lease"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadStore is the lead persistence port. Satisfied by *repository.Repository.
type LeadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (repository.Lead, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, params repository.UpdateStatusParams) (repository.Lead, error)
	SetCommercialOutcome(ctx context.Context, id uuid.UUID, category, subcategory *string) error
}

// HistoryStore is the append-only audit log port. Satisfied by
// *repository.History.
type HistoryStore interface {
	Append(ctx context.Context, params repository.AppendHistoryParams) error
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]repository.HistoryEntry, error)
	HasAdvisorOwned(ctx context.Context, leadID, advisorID uuid.UUID) (bool, error)
	LastAdvisor(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error)
}

// HistoryRetryQueue re-persists history entries whose synchronous write
// failed. Satisfied by *scheduler.Client.
type HistoryRetryQueue interface {
	EnqueueHistoryAppend(ctx context.Context, params repository.AppendHistoryParams) error
}

// Engine is the single entry point allowed to mutate a lead's status and
// assignment. It must be the only writer of those fields.
type Engine struct {
	leads   LeadStore
	history HistoryStore
	leases  lease.Store
	bus     events.Bus
	retry   HistoryRetryQueue
	ttl     time.Duration
	log     *logger.Logger
}

// New creates an assignment engine. retry may be nil when no durable retry
// queue is wired (failed history writes are then only logged).
func New(leads LeadStore, history HistoryStore, leases lease.Store, bus events.Bus, retry HistoryRetryQueue, ttl time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		leads:   leads,
		history: history,
		leases:  leases,
		bus:     bus,
		retry:   retry,
		ttl:     ttl,
		log:     log,
	}
}

// TransitionRequest describes one attempted status change.
// TargetAdvisorID is the advisor receiving the lead on (re)assignment;
// advisor-initiated transitions leave it nil and act on the caller.
type TransitionRequest struct {
	LeadID          uuid.UUID
	ActorID         uuid.UUID
	Role            domain.Role
	Requested       domain.Status
	TargetAdvisorID *uuid.UUID
	Force           bool
	// Commercial outcome, recorded when the transition closes the
	// management cycle (gestionado, no_gestionado, cerrado).
	CommercialCategory    *string
	CommercialSubcategory *string
}

// TransitionResult is the outcome of a committed transition.
type TransitionResult struct {
	NewStatus domain.Status
	// PreviouslyOwnedByTarget flags reassignments to an advisor who already
	// worked this lead. Informational only; the dispatcher confirms.
	PreviouslyOwnedByTarget bool
}

// HeartbeatResult reports the state of an advisor's session after a renewal
// attempt.
type HeartbeatResult struct {
	TTLRemaining time.Duration
	Expired      bool
}

// RequestTransition runs the full transition contract. The ordering is
// strict: rules, then the lease operation, then the lead row, then history,
// then notification. A lease failure aborts before anything is written, so
// the lease remains the source of truth if the process dies mid-sequence.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	lead, err := e.leads.GetByID(ctx, req.LeadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TransitionResult{}, apperr.NotFound("lead not found")
		}
		return TransitionResult{}, apperr.Wrap(apperr.KindInternal, "load lead", err)
	}

	current, err := e.leases.Get(ctx, req.LeadID)
	if err != nil {
		return TransitionResult{}, leaseErr(err)
	}

	ownerID, err := e.effectiveOwner(ctx, lead, current)
	if err != nil {
		return TransitionResult{}, apperr.Wrap(apperr.KindInternal, "resolve owner", err)
	}

	decision := domain.Decide(domain.TransitionInput{
		Role:      req.Role,
		ActorID:   req.ActorID,
		Current:   lead.Status,
		Requested: req.Requested,
		OwnerID:   ownerID,
		Force:     req.Force,
	})
	if !decision.Valid {
		return TransitionResult{}, ruleErr(decision.Reason)
	}

	target, err := e.resolveTarget(req)
	if err != nil {
		return TransitionResult{}, err
	}

	result := TransitionResult{NewStatus: req.Requested}
	if req.Requested == domain.StatusDerivado {
		owned, err := e.history.HasAdvisorOwned(ctx, req.LeadID, *target)
		if err != nil {
			return TransitionResult{}, apperr.Wrap(apperr.KindInternal, "check prior ownership", err)
		}
		result.PreviouslyOwnedByTarget = owned
	}

	historyAdvisor, err := e.applyLeaseOp(ctx, req, current, target, ownerID)
	if err != nil {
		return TransitionResult{}, err
	}

	assigned := historyAdvisor
	if !req.Requested.IsOwned() {
		assigned = nil
	}
	if _, err := e.leads.UpdateStatus(ctx, req.LeadID, repository.UpdateStatusParams{
		Status:            req.Requested,
		AssignedAdvisorID: assigned,
		TouchLastContact:  req.Role == domain.RoleAsesor,
	}); err != nil {
		// The lease already moved; the status write is retryable and the
		// lease remains authoritative in the meantime.
		return TransitionResult{}, apperr.Wrap(apperr.KindInternal, "persist lead status", err)
	}

	outcome := req.Requested.ReleasesOwnership() && req.Requested != domain.StatusListaNegra
	if outcome && (req.CommercialCategory != nil || req.CommercialSubcategory != nil) {
		if err := e.leads.SetCommercialOutcome(ctx, req.LeadID, req.CommercialCategory, req.CommercialSubcategory); err != nil {
			e.log.Warn("commercial outcome write failed", "lead_id", req.LeadID, "error", err)
		}
	}

	actorID := req.ActorID
	e.appendHistory(ctx, repository.AppendHistoryParams{
		LeadID:     req.LeadID,
		AdvisorID:  historyAdvisor,
		FromStatus: string(lead.Status),
		ToStatus:   string(req.Requested),
		ActorID:    &actorID,
		ActorRole:  string(req.Role),
		EventType:  repository.HistoryEventStatusChange,
	})

	e.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    req.LeadID,
		OldStatus: string(lead.Status),
		NewStatus: string(req.Requested),
		AdvisorID: historyAdvisor,
		ActorID:   &actorID,
		ActorRole: string(req.Role),
	})

	return result, nil
}

// Heartbeat renews the advisor's session lease. When the lease is gone
// (expired or stolen) the lead is recovered into the pickup pool and the
// caller learns the session ended.
func (e *Engine) Heartbeat(ctx context.Context, leadID, advisorID uuid.UUID) (HeartbeatResult, error) {
	renewed, err := e.leases.Renew(ctx, leadID, advisorID, e.ttl)
	if err == nil {
		return HeartbeatResult{TTLRemaining: time.Until(renewed.ExpiresAt)}, nil
	}
	if !errors.Is(err, lease.ErrNotFound) {
		return HeartbeatResult{}, leaseErr(err)
	}

	e.log.LeaseEvent("heartbeat_expired", leadID.String(), advisorID.String())
	if err := e.recoverExpiredSession(ctx, leadID, &advisorID); err != nil {
		return HeartbeatResult{}, err
	}
	return HeartbeatResult{Expired: true}, nil
}

// HandleLeaseExpired is the sweeper callback: the lease is already evicted,
// only the lead row and audit trail need recovery.
func (e *Engine) HandleLeaseExpired(ctx context.Context, leadID uuid.UUID) {
	if err := e.recoverExpiredSession(ctx, leadID, nil); err != nil {
		e.log.Error("session expiry recovery failed", "lead_id", leadID, "error", err)
	}
}

// LeaseStatus returns the lead's live lease, or nil.
func (e *Engine) LeaseStatus(ctx context.Context, leadID uuid.UUID) (*lease.Lease, error) {
	l, err := e.leases.Get(ctx, leadID)
	if err != nil {
		return nil, leaseErr(err)
	}
	return l, nil
}

// History returns the lead's audit trail in commit order.
func (e *Engine) History(ctx context.Context, leadID uuid.UUID) ([]repository.HistoryEntry, error) {
	if _, err := e.leads.GetByID(ctx, leadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lead not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "load lead", err)
	}
	entries, err := e.history.ListByLead(ctx, leadID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load history", err)
	}
	return entries, nil
}

// ActiveSessions lists all live advisor sessions.
func (e *Engine) ActiveSessions(ctx context.Context) ([]lease.Lease, error) {
	leases, err := e.leases.ListActive(ctx)
	if err != nil {
		return nil, leaseErr(err)
	}
	return leases, nil
}

// effectiveOwner resolves who is responsible for the lead right now: the
// live lease holder, then the persisted assignment, then the most recent
// history advisor (covers the closing steps after the lease was released).
func (e *Engine) effectiveOwner(ctx context.Context, lead repository.Lead, current *lease.Lease) (*uuid.UUID, error) {
	if current != nil {
		owner := current.AdvisorID
		return &owner, nil
	}
	if lead.AssignedAdvisorID != nil {
		return lead.AssignedAdvisorID, nil
	}
	return e.history.LastAdvisor(ctx, lead.ID)
}

func (e *Engine) resolveTarget(req TransitionRequest) (*uuid.UUID, error) {
	if req.Requested == domain.StatusDerivado {
		if req.TargetAdvisorID == nil {
			return nil, apperr.BadRequest("advisor_id is required when deriving a lead")
		}
		return req.TargetAdvisorID, nil
	}
	actorID := req.ActorID
	return &actorID, nil
}

// applyLeaseOp performs the lease side of the transition and returns the
// advisor to record on the history entry and assignment projection.
func (e *Engine) applyLeaseOp(ctx context.Context, req TransitionRequest, current *lease.Lease, target, ownerID *uuid.UUID) (*uuid.UUID, error) {
	switch {
	case req.Requested == domain.StatusDerivado:
		if current != nil && current.AdvisorID != *target {
			if !req.Force {
				return nil, apperr.Conflict("lead is leased to another advisor").
					WithDetails(map[string]string{"advisorId": current.AdvisorID.String()})
			}
			if err := e.leases.ForceRelease(ctx, req.LeadID); err != nil {
				return nil, leaseErr(err)
			}
		}
		if _, err := e.leases.Acquire(ctx, req.LeadID, *target, e.ttl); err != nil {
			return nil, leaseErr(err)
		}
		e.log.LeaseEvent("acquired", req.LeadID.String(), target.String())
		return target, nil

	case req.Requested == domain.StatusEnGestion:
		if _, err := e.leases.Renew(ctx, req.LeadID, req.ActorID, e.ttl); err != nil {
			if errors.Is(err, lease.ErrNotFound) {
				// Lease lapsed between the rule check and the renew.
				return nil, apperr.Conflict("advisor session expired").
					WithDetails(map[string]string{"reason": "session_expired"})
			}
			return nil, leaseErr(err)
		}
		actorID := req.ActorID
		return &actorID, nil

	case req.Requested == domain.StatusListaNegra:
		// The escape hatch must clear whoever holds the lead.
		if err := e.leases.ForceRelease(ctx, req.LeadID); err != nil {
			return nil, leaseErr(err)
		}
		if req.Role == domain.RoleAsesor {
			actorID := req.ActorID
			return &actorID, nil
		}
		return ownerID, nil

	default:
		// gestionado / no_gestionado / cerrado end the advisor's session.
		if _, err := e.leases.Release(ctx, req.LeadID, req.ActorID); err != nil {
			return nil, leaseErr(err)
		}
		e.log.LeaseEvent("released", req.LeadID.String(), req.ActorID.String())
		actorID := req.ActorID
		return &actorID, nil
	}
}

// recoverExpiredSession returns an expired lead to derivado, unowned and
// available for pickup, and records the expiry in the audit trail.
func (e *Engine) recoverExpiredSession(ctx context.Context, leadID uuid.UUID, advisorID *uuid.UUID) error {
	lead, err := e.leads.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("lead not found")
		}
		return apperr.Wrap(apperr.KindInternal, "load lead", err)
	}

	// A lead still showing an owner needs recovery; anything else already
	// left the owned states or was already returned to the pickup pool.
	if !lead.Status.IsOwned() || lead.AssignedAdvisorID == nil {
		return nil
	}

	// A stale heartbeat after a forced reassignment must not undo the new
	// advisor's session. An unreadable lease store fails closed: recovery
	// waits for a window where the absence of a lease is certain.
	current, err := e.leases.Get(ctx, leadID)
	if err != nil {
		return leaseErr(err)
	}
	if current != nil {
		return nil
	}

	expiredAdvisor := advisorID
	if expiredAdvisor == nil {
		expiredAdvisor = lead.AssignedAdvisorID
	}

	// Conditional on the advisor observed above: if a re-derive commits
	// between the lease check and this write, the update matches no row and
	// the recovery stands down.
	if _, err := e.leads.UpdateStatus(ctx, leadID, repository.UpdateStatusParams{
		Status:            domain.StatusDerivado,
		AssignedAdvisorID: nil,
		IfAssignedTo:      lead.AssignedAdvisorID,
	}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, "persist expiry recovery", err)
	}

	e.appendHistory(ctx, repository.AppendHistoryParams{
		LeadID:     leadID,
		AdvisorID:  expiredAdvisor,
		FromStatus: string(lead.Status),
		ToStatus:   string(domain.StatusDerivado),
		ActorRole:  repository.RoleSystem,
		EventType:  repository.HistoryEventSessionExpired,
	})

	e.bus.Publish(ctx, events.LeadSessionExpired{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		AdvisorID: expiredAdvisor,
	})
	return nil
}

// appendHistory writes the audit entry. A failure here never rolls back the
// transition (the status change is already visible); it is escalated loudly
// and queued for a durable retried write.
func (e *Engine) appendHistory(ctx context.Context, params repository.AppendHistoryParams) {
	err := e.history.Append(ctx, params)
	if err == nil {
		return
	}
	e.log.Error("history append failed, queueing retry",
		"lead_id", params.LeadID,
		"from", params.FromStatus,
		"to", params.ToStatus,
		"error", err,
	)

	if e.retry == nil {
		return
	}
	if err := e.retry.EnqueueHistoryAppend(ctx, params); err != nil {
		e.log.Error("history retry enqueue failed", "lead_id", params.LeadID, "error", err)
	}
}

func ruleErr(reason domain.Reason) error {
	details := map[string]string{"reason": string(reason)}
	switch reason {
	case domain.ReasonIllegalTransition:
		return apperr.Validation("illegal status transition").WithDetails(details)
	default:
		return apperr.Forbidden("transition not permitted").WithDetails(details)
	}
}

func leaseErr(err error) error {
	switch {
	case errors.Is(err, lease.ErrConflict):
		return apperr.Conflict("lead is leased to another advisor")
	case errors.Is(err, lease.ErrNotFound):
		return apperr.NotFound("no live session for lead")
	default:
		return apperr.Wrap(apperr.KindUnavailable, "lease store unavailable", err)
	}
}
