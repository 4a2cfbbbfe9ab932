package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
)

const leadColumns = `l.id, l.tenant_id, l.contact_name, l.company_name, l.phone, l.email, l.segment,
	l.company_size, l.objections, l.stage, l.bucket, l.priority, l.status, l.last_dispatch_at,
	l.created_at, l.updated_at`

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads l WHERE l.id = $1`, id)
	var rec leadRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}
	lead, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// ListEligible returns the campaign's target leads that may be contacted now,
// highest priority first.
func (r *LeadRepository) ListEligible(ctx context.Context, f repository.EligibleFilter) ([]*domain.Lead, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + leadColumns + `
		FROM leads l
		JOIN campaign_leads cl ON cl.lead_id = l.id
		WHERE cl.campaign_id = $1
		  AND l.tenant_id = $2
		  AND l.status = ANY($3::text[])
		  AND (l.last_dispatch_at IS NULL OR l.last_dispatch_at < $4)
		  AND ` + contactClause(f.Channel) + `
		ORDER BY l.priority DESC, l.created_at ASC
		LIMIT $5`

	rows, err := r.db.QueryxContext(ctx, query, f.CampaignID, f.TenantID, textArray(f.Statuses), f.DispatchedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: select eligible: %w", err)
	}
	defer rows.Close()

	var results []*domain.Lead
	for rows.Next() {
		var rec leadRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, &lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

// MarkDispatched records a successful send.
func (r *LeadRepository) MarkDispatched(ctx context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $1, last_dispatch_at = $2, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return fmt.Errorf("lead repo: mark dispatched: %w", err)
	}
	return expectOneRow(res, "lead repo")
}

// UpdateStatus sets the lead's lifecycle status.
func (r *LeadRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("lead repo: update status: %w", err)
	}
	return expectOneRow(res, "lead repo")
}

// AssignToCampaign adds leads to a campaign's target set. Existing assignments
// are kept.
func (r *LeadRepository) AssignToCampaign(ctx context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error {
	if len(leadIDs) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `INSERT INTO campaign_leads (campaign_id, lead_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
		if err != nil {
			return fmt.Errorf("lead repo: prepare assign: %w", err)
		}
		defer stmt.Close()

		for _, id := range leadIDs {
			if _, err := stmt.ExecContext(ctx, campaignID, id); err != nil {
				return fmt.Errorf("lead repo: assign: %w", err)
			}
		}
		return nil
	})
}

func contactClause(ch domain.Channel) string {
	switch ch {
	case domain.ChannelChat:
		return `l.phone <> ''`
	case domain.ChannelEmail:
		return `l.email <> ''`
	default:
		return `(l.phone <> '' OR l.email <> '')`
	}
}

// textArray renders a Postgres array literal. Values are enum identifiers.
func textArray(statuses []domain.LeadStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func expectOneRow(res sql.Result, scope string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", scope, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type leadRecord struct {
	ID             uuid.UUID      `db:"id"`
	TenantID       string         `db:"tenant_id"`
	ContactName    string         `db:"contact_name"`
	CompanyName    string         `db:"company_name"`
	Phone          sql.NullString `db:"phone"`
	Email          sql.NullString `db:"email"`
	Segment        sql.NullString `db:"segment"`
	CompanySize    sql.NullString `db:"company_size"`
	Objections     []byte         `db:"objections"`
	Stage          string         `db:"stage"`
	Bucket         string         `db:"bucket"`
	Priority       int            `db:"priority"`
	Status         string         `db:"status"`
	LastDispatchAt sql.NullTime   `db:"last_dispatch_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r leadRecord) toDomain() (domain.Lead, error) {
	var objections []string
	if len(r.Objections) > 0 {
		if err := json.Unmarshal(r.Objections, &objections); err != nil {
			return domain.Lead{}, fmt.Errorf("lead repo: decode objections of %s: %w", r.ID, err)
		}
	}

	lead := domain.Lead{
		ID:          r.ID,
		TenantID:    r.TenantID,
		ContactName: r.ContactName,
		CompanyName: r.CompanyName,
		Phone:       r.Phone.String,
		Email:       r.Email.String,
		Segment:     r.Segment.String,
		CompanySize: r.CompanySize.String,
		Objections:  objections,
		Stage:       domain.FunnelStage(r.Stage),
		Bucket:      domain.Bucket(r.Bucket),
		Priority:    r.Priority,
		Status:      domain.LeadStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastDispatchAt.Valid {
		t := r.LastDispatchAt.Time
		lead.LastDispatchAt = &t
	}
	return lead, nil
}
