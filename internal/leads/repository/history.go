package repository

import (
	"context"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// History event types. Most entries record a rule-driven status change; the
// engine additionally records session expiries discovered by heartbeat or
// sweep.
const (
	HistoryEventStatusChange   = "status_change"
	HistoryEventSessionExpired = "session_expired"
)

// RoleSystem marks engine-initiated history entries (expiry recovery), as
// opposed to the closed caller roles.
const RoleSystem = "system"

// HistoryEntry is one immutable audit record of a lead status transition.
// Rows are append-only; nothing in the application updates or deletes them.
type HistoryEntry struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	AdvisorID  *uuid.UUID
	FromStatus domain.Status
	ToStatus   domain.Status
	ActorID    *uuid.UUID
	ActorRole  string
	EventType  string
	CreatedAt  time.Time
}

type AppendHistoryParams struct {
	LeadID     uuid.UUID  `json:"leadId"`
	AdvisorID  *uuid.UUID `json:"advisorId,omitempty"`
	FromStatus string     `json:"fromStatus"`
	ToStatus   string     `json:"toStatus"`
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
	ActorRole  string     `json:"actorRole"`
	EventType  string     `json:"eventType"`
}

// History is the append-only status-change log. Append failures are always
// surfaced: audit completeness is a correctness requirement, and it is the
// caller's job to escalate and queue a retried write.
type History struct {
	pool *pgxpool.Pool
}

func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

func (h *History) Append(ctx context.Context, params AppendHistoryParams) error {
	eventType := params.EventType
	if eventType == "" {
		eventType = HistoryEventStatusChange
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO lead_status_history (
			lead_id, advisor_id, from_status, to_status, actor_id, actor_role, event_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		params.LeadID,
		params.AdvisorID,
		params.FromStatus,
		params.ToStatus,
		params.ActorID,
		params.ActorRole,
		eventType,
	)
	return err
}

// ListByLead returns the lead's full history in commit order.
func (h *History) ListByLead(ctx context.Context, leadID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, lead_id, advisor_id, from_status, to_status, actor_id,
			actor_role, event_type, created_at
		FROM lead_status_history
		WHERE lead_id = $1
		ORDER BY created_at ASC, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.LeadID,
			&entry.AdvisorID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.ActorID,
			&entry.ActorRole,
			&entry.EventType,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// HasAdvisorOwned reports whether the advisor appears anywhere in the lead's
// ownership history. Used to warn dispatchers before re-deriving a lead to an
// advisor who already worked it.
func (h *History) HasAdvisorOwned(ctx context.Context, leadID, advisorID uuid.UUID) (bool, error) {
	var exists bool
	err := h.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM lead_status_history
			WHERE lead_id = $1 AND advisor_id = $2
		)
	`, leadID, advisorID).Scan(&exists)
	return exists, err
}

// LastAdvisor returns the advisor on the lead's most recent history entry, or
// nil when the lead has never been owned.
func (h *History) LastAdvisor(ctx context.Context, leadID uuid.UUID) (*uuid.UUID, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT advisor_id
		FROM lead_status_history
		WHERE lead_id = $1 AND advisor_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var advisorID uuid.UUID
	if err := rows.Scan(&advisorID); err != nil {
		return nil, err
	}
	return &advisorID, rows.Err()
}
