package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
)

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Record folds one run report into the campaign's running totals.
func (r *CampaignStatisticsRepository) Record(ctx context.Context, report domain.RunReport) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (
		campaign_id, runs, messages_sent, failed, skipped, deferred, last_outcome, last_run_at, updated_at
	) VALUES ($1, 1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (campaign_id) DO UPDATE SET
		runs = campaign_statistics.runs + 1,
		messages_sent = campaign_statistics.messages_sent + EXCLUDED.messages_sent,
		failed = campaign_statistics.failed + EXCLUDED.failed,
		skipped = campaign_statistics.skipped + EXCLUDED.skipped,
		deferred = campaign_statistics.deferred + EXCLUDED.deferred,
		last_outcome = EXCLUDED.last_outcome,
		last_run_at = EXCLUDED.last_run_at,
		updated_at = NOW()`,
		report.CampaignID,
		report.Sent,
		report.Failed,
		report.Skipped,
		report.Deferred,
		string(report.Outcome),
		report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("campaign stats: record: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT campaign_id, runs, messages_sent, failed, skipped, deferred, last_outcome, last_run_at
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID)

	var rec struct {
		CampaignID   uuid.UUID    `db:"campaign_id"`
		Runs         int          `db:"runs"`
		MessagesSent int          `db:"messages_sent"`
		Failed       int          `db:"failed"`
		Skipped      int          `db:"skipped"`
		Deferred     int          `db:"deferred"`
		LastOutcome  string       `db:"last_outcome"`
		LastRunAt    sql.NullTime `db:"last_run_at"`
	}
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}

	stats := &domain.CampaignStats{
		CampaignID:   rec.CampaignID,
		Runs:         rec.Runs,
		MessagesSent: rec.MessagesSent,
		Failed:       rec.Failed,
		Skipped:      rec.Skipped,
		Deferred:     rec.Deferred,
		LastOutcome:  domain.DispatchOutcome(rec.LastOutcome),
	}
	if rec.LastRunAt.Valid {
		t := rec.LastRunAt.Time
		stats.LastRunAt = &t
	}
	return stats, nil
}
