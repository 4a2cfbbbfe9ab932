package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// InteractionStore persists the conversation log of each lead in Scylla. Rows
// cluster by occurred_at descending so the newest interactions read first.
type InteractionStore struct {
	session *gocql.Session
}

// NewInteractionStore creates a new interaction store.
func NewInteractionStore(session *gocql.Session) *InteractionStore {
	return &InteractionStore{session: session}
}

// Append inserts an interaction. Re-appending the same id overwrites the row.
func (s *InteractionStore) Append(ctx context.Context, in domain.Interaction) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}
	var campaignID *string
	if in.CampaignID != uuid.Nil {
		id := in.CampaignID.String()
		campaignID = &id
	}

	if err := s.session.Query(`INSERT INTO interactions_by_lead (lead_id, occurred_at, interaction_id, campaign_id, channel, direction, kind, body, message_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.LeadID.String(), in.OccurredAt, in.ID.String(), campaignID, string(in.Channel), string(in.Direction),
		in.Kind, in.Body, in.MessageID, in.Metadata,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("interaction store: insert: %w", err)
	}
	return nil
}

// ListRecent returns up to limit interactions of a lead, newest first.
func (s *InteractionStore) ListRecent(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Interaction, error) {
	if limit <= 0 {
		limit = 10
	}

	iter := s.session.Query(`SELECT occurred_at, interaction_id, campaign_id, channel, direction, kind, body, message_id, metadata
		FROM interactions_by_lead WHERE lead_id = ? LIMIT ?`, leadID.String(), limit).WithContext(ctx).Iter()

	var (
		occurred   time.Time
		idStr      string
		campaignID *string
		channel    string
		direction  string
		kind       string
		body       string
		messageID  string
		metadata   map[string]string
	)

	out := make([]domain.Interaction, 0, limit)
	for iter.Scan(&occurred, &idStr, &campaignID, &channel, &direction, &kind, &body, &messageID, &metadata) {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		in := domain.Interaction{
			ID:         id,
			LeadID:     leadID,
			Channel:    domain.Channel(channel),
			Direction:  domain.InteractionDirection(direction),
			Kind:       kind,
			Body:       body,
			MessageID:  messageID,
			Metadata:   metadata,
			OccurredAt: occurred,
		}
		if campaignID != nil {
			if cid, err := uuid.Parse(*campaignID); err == nil {
				in.CampaignID = cid
			}
		}
		out = append(out, in)
		metadata = nil
		campaignID = nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("interaction store: iter close: %w", err)
	}
	return out, nil
}
