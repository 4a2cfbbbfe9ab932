package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/compliance"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	"github.com/acme/lead-outreach-orchestrator/internal/service/negotiation"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// TriggerPublisher queues a trigger for the event worker.
type TriggerPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Negotiator runs the two scheduling phases.
type Negotiator interface {
	Propose(ctx context.Context, req negotiation.ProposeRequest) (negotiation.Proposal, error)
	Confirm(ctx context.Context, req negotiation.ConfirmRequest) (*domain.ScheduleNegotiation, error)
}

// SentimentGate evaluates free text.
type SentimentGate interface {
	Evaluate(ctx context.Context, text, language string) domain.SentimentVerdict
}

// InboundHandler processes a lead's reply.
type InboundHandler interface {
	Handle(ctx context.Context, msg compliance.InboundMessage) (domain.SentimentVerdict, error)
}

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the services behind the HTTP surface. Status may be nil when
// the chat channel cannot report delivery status.
type Dependencies struct {
	Campaigns    repository.CampaignRepository
	Targets      repository.CampaignTargetRepository
	AllowedHours repository.AllowedHoursRepository
	Stats        repository.CampaignStatisticsRepository
	Triggers     TriggerPublisher
	Negotiator   Negotiator
	Gate         SentimentGate
	Inbound      InboundHandler
	Status       channel.StatusChecker
	Health       map[string]HealthCheck
	Logger       *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	deps Dependencies
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &HandlerSet{deps: deps}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/dispatch", h.dispatchCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Put("/:id/allowed-hours", h.replaceAllowedHours)
	campaigns.Post("/:id/leads", h.assignLeads)

	leads := v1.Group("/leads")
	leads.Post("/:id/schedule/propose", h.proposeSchedule)
	leads.Post("/:id/schedule/confirm", h.confirmSchedule)
	leads.Post("/:id/inbound", h.inboundMessage)

	v1.Post("/sentiment/evaluate", h.evaluateSentiment)
	v1.Get("/messages/:id/status", h.messageStatus)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.deps.Logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.deps.Health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
