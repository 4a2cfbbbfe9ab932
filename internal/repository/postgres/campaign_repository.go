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

const campaignColumns = `id, tenant_id, name, channel, status, min_interval_ms, variants, created_at, updated_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db    *sqlx.DB
	hours *AllowedHoursRepository
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db, hours: NewAllowedHoursRepository(db)}
}

// Get fetches a campaign by id, including its allowed-hours windows.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	if campaign.Cadence.AllowedHours, err = r.hours.List(ctx, campaign.ID); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ListByStatus returns campaigns filtered by status, least recently updated first.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	for _, c := range results {
		if c.Cadence.AllowedHours, err = r.hours.List(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

type campaignRecord struct {
	ID            uuid.UUID    `db:"id"`
	TenantID      string       `db:"tenant_id"`
	Name          string       `db:"name"`
	Channel       string       `db:"channel"`
	Status        string       `db:"status"`
	MinIntervalMs int64        `db:"min_interval_ms"`
	Variants      []byte       `db:"variants"`
	CreatedAt     sql.NullTime `db:"created_at"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

type variantDocument struct {
	ID      string `json:"id"`
	Bucket  string `json:"bucket"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (r campaignRecord) toDomain() (domain.Campaign, error) {
	campaign := domain.Campaign{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Channel:   domain.Channel(r.Channel),
		Status:    domain.CampaignStatus(r.Status),
		Variants:  map[domain.FunnelStage][]domain.MessageVariant{},
		Cadence:   domain.Cadence{MinInterval: time.Duration(r.MinIntervalMs) * time.Millisecond},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}

	if len(r.Variants) == 0 {
		return campaign, nil
	}
	var docs map[string][]variantDocument
	if err := json.Unmarshal(r.Variants, &docs); err != nil {
		return domain.Campaign{}, fmt.Errorf("campaign repo: decode variants of %s: %w", r.ID, err)
	}
	for stage, list := range docs {
		variants := make([]domain.MessageVariant, 0, len(list))
		for _, d := range list {
			variants = append(variants, domain.MessageVariant{
				ID:      d.ID,
				Bucket:  domain.Bucket(d.Bucket),
				Subject: d.Subject,
				Body:    d.Body,
			})
		}
		campaign.Variants[domain.FunnelStage(stage)] = variants
	}
	return campaign, nil
}
