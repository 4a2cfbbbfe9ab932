package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

type allowedHourRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type allowedHoursRequest struct {
	Windows []allowedHourRequest `json:"windows"`
}

type assignLeadsRequest struct {
	LeadIDs []uuid.UUID `json:"lead_ids"`
}

type allowedHourResponse struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type variantResponse struct {
	ID      string `json:"id"`
	Bucket  string `json:"bucket"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type campaignResponse struct {
	ID           uuid.UUID                    `json:"id"`
	TenantID     string                       `json:"tenant_id"`
	Name         string                       `json:"name"`
	Channel      domain.Channel               `json:"channel"`
	Status       domain.CampaignStatus        `json:"status"`
	MinInterval  string                       `json:"min_interval"`
	AllowedHours []allowedHourResponse        `json:"allowed_hours"`
	Variants     map[string][]variantResponse `json:"variants"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

type dispatchQueuedResponse struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	TenantID   string    `json:"tenant_id"`
	TraceID    string    `json:"trace_id"`
	Status     string    `json:"status"`
	QueuedAt   time.Time `json:"queued_at"`
}

type statsResponse struct {
	CampaignID   uuid.UUID              `json:"campaign_id"`
	Runs         int                    `json:"runs"`
	MessagesSent int                    `json:"messages_sent"`
	Failed       int                    `json:"failed"`
	Skipped      int                    `json:"skipped"`
	Deferred     int                    `json:"deferred"`
	LastOutcome  domain.DispatchOutcome `json:"last_outcome,omitempty"`
	LastRunAt    *time.Time             `json:"last_run_at,omitempty"`
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid campaign id")
	}
	campaign, err := h.deps.Campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

// dispatchCampaign queues a dispatch run for the event worker and answers with
// the trace id the run will log under.
func (h *HandlerSet) dispatchCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid campaign id")
	}
	campaign, err := h.deps.Campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	if campaign.Status != domain.CampaignStatusActive {
		return translateError(fmt.Errorf("%w: campaign is %s", apperrors.ErrValidation, campaign.Status))
	}

	trigger := queue.CampaignDispatchTrigger{
		CampaignID:  campaign.ID,
		TraceID:     uuid.NewString(),
		TriggeredAt: time.Now().UTC(),
	}
	if err := h.deps.Triggers.Publish(ctx.UserContext(), campaign.ID.String(), trigger); err != nil {
		h.deps.Logger.Error("dispatch trigger publish failed",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Error(err),
		)
		return translateError(apperrors.NewClassified(apperrors.KindNetwork, "dispatch trigger not queued", err))
	}
	return ctx.Status(http.StatusAccepted).JSON(dispatchQueuedResponse{
		CampaignID: campaign.ID,
		TenantID:   campaign.TenantID,
		TraceID:    trigger.TraceID,
		Status:     "queued",
		QueuedAt:   trigger.TriggeredAt,
	})
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid campaign id")
	}
	stats, err := h.deps.Stats.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(statsResponse{
		CampaignID:   stats.CampaignID,
		Runs:         stats.Runs,
		MessagesSent: stats.MessagesSent,
		Failed:       stats.Failed,
		Skipped:      stats.Skipped,
		Deferred:     stats.Deferred,
		LastOutcome:  stats.LastOutcome,
		LastRunAt:    stats.LastRunAt,
	})
}

func (h *HandlerSet) replaceAllowedHours(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid campaign id")
	}
	var req allowedHoursRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	windows, err := parseAllowedHours(req.Windows)
	if err != nil {
		return translateError(err)
	}
	if _, err := h.deps.Campaigns.Get(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	if err := h.deps.AllowedHours.Replace(ctx.UserContext(), id, windows); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"campaign_id": id, "allowed_hours": toAllowedHourResponses(windows)})
}

func (h *HandlerSet) assignLeads(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid campaign id")
	}
	var req assignLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	if len(req.LeadIDs) == 0 {
		return badRequest("lead_ids is required")
	}
	if _, err := h.deps.Campaigns.Get(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	if err := h.deps.Targets.AssignToCampaign(ctx.UserContext(), id, req.LeadIDs); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"campaign_id": id, "assigned": len(req.LeadIDs)})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	variants := make(map[string][]variantResponse, len(c.Variants))
	for stage, list := range c.Variants {
		out := make([]variantResponse, 0, len(list))
		for _, v := range list {
			out = append(out, variantResponse{ID: v.ID, Bucket: string(v.Bucket), Subject: v.Subject, Body: v.Body})
		}
		variants[string(stage)] = out
	}
	return campaignResponse{
		ID:           c.ID,
		TenantID:     c.TenantID,
		Name:         c.Name,
		Channel:      c.Channel,
		Status:       c.Status,
		MinInterval:  c.Cadence.MinInterval.String(),
		AllowedHours: toAllowedHourResponses(c.Cadence.AllowedHours),
		Variants:     variants,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toAllowedHourResponses(windows []domain.BusinessHourWindow) []allowedHourResponse {
	out := make([]allowedHourResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, allowedHourResponse{
			DayOfWeek: int(w.DayOfWeek),
			Start:     w.Start.Format("15:04"),
			End:       w.End.Format("15:04"),
		})
	}
	return out
}

func parseAllowedHours(req []allowedHourRequest) ([]domain.BusinessHourWindow, error) {
	windows := make([]domain.BusinessHourWindow, 0, len(req))
	for _, bh := range req {
		if bh.DayOfWeek < 0 || bh.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: day_of_week must be 0-6", apperrors.ErrValidation)
		}
		start, err := time.Parse("15:04", bh.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid start time", apperrors.ErrValidation)
		}
		end, err := time.Parse("15:04", bh.End)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid end time", apperrors.ErrValidation)
		}
		if start.Equal(end) {
			return nil, fmt.Errorf("%w: empty window", apperrors.ErrValidation)
		}
		windows = append(windows, domain.BusinessHourWindow{
			DayOfWeek: time.Weekday(bh.DayOfWeek),
			Start:     start,
			End:       end,
		})
	}
	return windows, nil
}
