package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// AllowedHoursRepository persists the per-campaign sending windows.
type AllowedHoursRepository struct {
	db *sqlx.DB
}

// NewAllowedHoursRepository creates a new repository.
func NewAllowedHoursRepository(db *sqlx.DB) *AllowedHoursRepository {
	return &AllowedHoursRepository{db: db}
}

// Replace replaces all windows of a campaign.
func (r *AllowedHoursRepository) Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_allowed_hours WHERE campaign_id = $1`, campaignID); err != nil {
			return fmt.Errorf("allowed hours: delete existing: %w", err)
		}

		if len(windows) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, `INSERT INTO campaign_allowed_hours (campaign_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("allowed hours: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, w := range windows {
			start := w.Start.Hour()*60 + w.Start.Minute()
			end := w.End.Hour()*60 + w.End.Minute()
			if _, err := stmt.ExecContext(ctx, campaignID, int(w.DayOfWeek), start, end); err != nil {
				return fmt.Errorf("allowed hours: insert: %w", err)
			}
		}
		return nil
	})
}

// List retrieves the windows of a campaign.
func (r *AllowedHoursRepository) List(ctx context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT day_of_week, start_minute, end_minute FROM campaign_allowed_hours WHERE campaign_id = $1 ORDER BY day_of_week, start_minute`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("allowed hours: query: %w", err)
	}
	defer rows.Close()

	var windows []domain.BusinessHourWindow
	for rows.Next() {
		var row struct {
			Day      int `db:"day_of_week"`
			StartMin int `db:"start_minute"`
			EndMin   int `db:"end_minute"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("allowed hours: scan: %w", err)
		}

		windows = append(windows, domain.BusinessHourWindow{
			DayOfWeek: time.Weekday(row.Day),
			Start:     minuteToTime(row.StartMin),
			End:       minuteToTime(row.EndMin),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allowed hours: rows err: %w", err)
	}

	return windows, nil
}

func minuteToTime(min int) time.Time {
	return time.Date(2000, time.January, 1, min/60, min%60, 0, 0, time.UTC)
}
