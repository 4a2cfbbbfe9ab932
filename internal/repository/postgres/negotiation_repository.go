package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
)

const negotiationColumns = `id, lead_id, calendar_id, state, proposed_slots, chosen_start, chosen_end,
	external_event_id, join_link, briefing, created_at, updated_at`

// NegotiationRepository implements repository.NegotiationRepository using PostgreSQL.
type NegotiationRepository struct {
	db *sqlx.DB
}

// NewNegotiationRepository constructs the repository.
func NewNegotiationRepository(db *sqlx.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

// Create inserts a new negotiation.
func (r *NegotiationRepository) Create(ctx context.Context, n *domain.ScheduleNegotiation) error {
	slots, err := json.Marshal(toSlotDocuments(n.ProposedSlots))
	if err != nil {
		return fmt.Errorf("negotiation repo: marshal slots: %w", err)
	}

	q := `INSERT INTO schedule_negotiations (
		id, lead_id, calendar_id, state, proposed_slots, created_at, updated_at
	) VALUES (
		:id, :lead_id, :calendar_id, :state, :proposed_slots, :created_at, :updated_at
	)`
	params := map[string]any{
		"id":             n.ID,
		"lead_id":        n.LeadID,
		"calendar_id":    n.CalendarID,
		"state":          string(n.State),
		"proposed_slots": slots,
		"created_at":     n.CreatedAt,
		"updated_at":     n.UpdatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("negotiation repo: insert: %w", err)
	}
	return nil
}

// LatestProposed returns the newest negotiation of the lead still in Proposed.
func (r *NegotiationRepository) LatestProposed(ctx context.Context, leadID uuid.UUID) (*domain.ScheduleNegotiation, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+negotiationColumns+`
		FROM schedule_negotiations
		WHERE lead_id = $1 AND state = $2
		ORDER BY created_at DESC
		LIMIT 1`, leadID, string(domain.NegotiationProposed))

	var rec negotiationRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("negotiation repo: latest proposed: %w", err)
	}
	return rec.toDomain()
}

// MarkConfirmed moves a Proposed negotiation to Confirmed. The state guard in the
// WHERE clause makes concurrent confirmations of the same record fail with
// ErrConflict.
func (r *NegotiationRepository) MarkConfirmed(ctx context.Context, n *domain.ScheduleNegotiation) error {
	if n.ChosenSlot == nil {
		return fmt.Errorf("negotiation repo: confirm %s without a chosen slot", n.ID)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE schedule_negotiations SET
		state = $1, chosen_start = $2, chosen_end = $3, external_event_id = $4,
		join_link = $5, briefing = $6, updated_at = $7
		WHERE id = $8 AND state = $9`,
		string(domain.NegotiationConfirmed), n.ChosenSlot.Start, n.ChosenSlot.End, n.ExternalEventID,
		n.JoinLink, n.Briefing, n.UpdatedAt,
		n.ID, string(domain.NegotiationProposed),
	)
	if err != nil {
		return fmt.Errorf("negotiation repo: mark confirmed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("negotiation repo: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("negotiation repo: %s is no longer proposed: %w", n.ID, repository.ErrConflict)
	}
	return nil
}

type slotDocument struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func toSlotDocuments(slots []domain.Slot) []slotDocument {
	out := make([]slotDocument, len(slots))
	for i, s := range slots {
		out[i] = slotDocument{Start: s.Start.UTC(), End: s.End.UTC()}
	}
	return out
}

type negotiationRecord struct {
	ID              uuid.UUID      `db:"id"`
	LeadID          uuid.UUID      `db:"lead_id"`
	CalendarID      string         `db:"calendar_id"`
	State           string         `db:"state"`
	ProposedSlots   []byte         `db:"proposed_slots"`
	ChosenStart     sql.NullTime   `db:"chosen_start"`
	ChosenEnd       sql.NullTime   `db:"chosen_end"`
	ExternalEventID sql.NullString `db:"external_event_id"`
	JoinLink        sql.NullString `db:"join_link"`
	Briefing        sql.NullString `db:"briefing"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r negotiationRecord) toDomain() (*domain.ScheduleNegotiation, error) {
	var docs []slotDocument
	if len(r.ProposedSlots) > 0 {
		if err := json.Unmarshal(r.ProposedSlots, &docs); err != nil {
			return nil, fmt.Errorf("negotiation repo: decode slots of %s: %w", r.ID, err)
		}
	}
	slots := make([]domain.Slot, len(docs))
	for i, d := range docs {
		slots[i] = domain.Slot{Start: d.Start, End: d.End}
	}

	n := &domain.ScheduleNegotiation{
		ID:              r.ID,
		LeadID:          r.LeadID,
		CalendarID:      r.CalendarID,
		State:           domain.NegotiationState(r.State),
		ProposedSlots:   slots,
		ExternalEventID: r.ExternalEventID.String,
		JoinLink:        r.JoinLink.String,
		Briefing:        r.Briefing.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ChosenStart.Valid && r.ChosenEnd.Valid {
		n.ChosenSlot = &domain.Slot{Start: r.ChosenStart.Time, End: r.ChosenEnd.Time}
	}
	return n, nil
}
