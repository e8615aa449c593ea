// Package repository provides Postgres persistence for leads and their
// status-change history.
package repository

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID                    uuid.UUID
	FirstName             string
	LastName              string
	Phone                 string
	Email                 *string
	Status                domain.Status
	AssignedAdvisorID     *uuid.UUID
	LastContactAt         *time.Time
	CommercialCategory    *string
	CommercialSubcategory *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const leadColumns = `
	id, first_name, last_name, phone, email, status, assigned_advisor_id,
	last_contact_at, commercial_category, commercial_subcategory,
	created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Phone,
		&lead.Email,
		&lead.Status,
		&lead.AssignedAdvisorID,
		&lead.LastContactAt,
		&lead.CommercialCategory,
		&lead.CommercialSubcategory,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1
	`, id)
	return scanLead(row)
}

type CreateLeadParams struct {
	FirstName             string
	LastName              string
	Phone                 string
	Email                 *string
	CommercialCategory    *string
	CommercialSubcategory *string
}

// Create inserts a lead in the intake state. Intake itself lives outside this
// service; this exists for seeding and for the import boundary.
func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (first_name, last_name, phone, email, status,
			commercial_category, commercial_subcategory)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+leadColumns+`
	`,
		params.FirstName,
		params.LastName,
		params.Phone,
		params.Email,
		domain.StatusNuevo,
		params.CommercialCategory,
		params.CommercialSubcategory,
	)
	return scanLead(row)
}

type UpdateStatusParams struct {
	Status            domain.Status
	AssignedAdvisorID *uuid.UUID
	TouchLastContact  bool
	// IfAssignedTo restricts the write to rows still assigned to this
	// advisor. When ownership moved in the meantime the update matches no
	// row and ErrNotFound is returned.
	IfAssignedTo *uuid.UUID
}

// UpdateStatus writes the lead's new status and assignment projection. Only
// the assignment engine calls this; the lease operation it follows is the
// source of truth, so the write is safe to retry.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, params UpdateStatusParams) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET status = $2,
			assigned_advisor_id = $3,
			last_contact_at = CASE WHEN $4 THEN now() ELSE last_contact_at END,
			updated_at = now()
		WHERE id = $1
		  AND ($5::uuid IS NULL OR assigned_advisor_id = $5)
		RETURNING `+leadColumns+`
	`, id, params.Status, params.AssignedAdvisorID, params.TouchLastContact, params.IfAssignedTo)
	return scanLead(row)
}

// SetCommercialOutcome records the closing taxonomy chosen when a lead
// reaches an outcome state.
func (r *Repository) SetCommercialOutcome(ctx context.Context, id uuid.UUID, category, subcategory *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET commercial_category = $2,
			commercial_subcategory = $3,
			updated_at = now()
		WHERE id = $1
	`, id, category, subcategory)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
