package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// CampaignSource lists campaigns by status.
type CampaignSource interface {
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// Runner executes one dispatch run.
type Runner interface {
	Run(ctx context.Context, campaign *domain.Campaign) (domain.RunReport, error)
}

// Scheduler periodically triggers dispatch runs for every active campaign.
type Scheduler struct {
	campaigns CampaignSource
	runner    Runner
	cfg       config.SchedulerConfig
	logger    *logger.Logger

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New constructs a scheduler.
func New(cfg config.SchedulerConfig, campaigns CampaignSource, runner Runner, lg *logger.Logger) *Scheduler {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Scheduler{
		campaigns: campaigns,
		runner:    runner,
		cfg:       cfg,
		logger:    lg,
		tenants:   make(map[string]*sync.Mutex),
	}
}

// Run executes the scheduling loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs every active campaign once. Campaigns of different tenants run in
// parallel; runs of the same tenant are serialised. A failing run is logged and
// does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) ([]domain.RunReport, error) {
	tracer := otel.Tracer("outreach.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	campaigns, err := s.campaigns.ListByStatus(sctx, domain.CampaignStatusActive, s.fetchLimit())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))
	s.logger.Info("scheduler: found campaigns", zap.Int("count", len(campaigns)))

	var (
		reportsMu sync.Mutex
		reports   = make([]domain.RunReport, 0, len(campaigns))
	)

	g, gctx := errgroup.WithContext(sctx)
	g.SetLimit(s.concurrency())
	for _, campaign := range campaigns {
		g.Go(func() error {
			report, ok := s.runCampaign(gctx, tracer, campaign)
			if ok {
				reportsMu.Lock()
				reports = append(reports, report)
				reportsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return reports, ctx.Err()
}

func (s *Scheduler) runCampaign(ctx context.Context, tracer trace.Tracer, campaign *domain.Campaign) (domain.RunReport, bool) {
	cctx, span := tracer.Start(ctx, "scheduler.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.String("tenant.id", campaign.TenantID),
	))
	defer span.End()

	lock := s.tenantLock(campaign.TenantID)
	lock.Lock()
	defer lock.Unlock()

	if cctx.Err() != nil {
		return domain.RunReport{}, false
	}

	report, err := s.runner.Run(cctx, campaign)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("scheduler: dispatch run failed",
			zap.String("campaign_id", campaign.ID.String()),
			zap.String("tenant_id", campaign.TenantID),
			zap.Error(err),
		)
		return domain.RunReport{}, false
	}
	span.SetAttributes(attribute.String("dispatch.outcome", string(report.Outcome)))
	return report, true
}

func (s *Scheduler) tenantLock(tenant string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tenants[tenant]
	if !ok {
		l = &sync.Mutex{}
		s.tenants[tenant] = l
	}
	return l
}

func (s *Scheduler) fetchLimit() int {
	if s.cfg.CampaignFetchLimit <= 0 {
		return 100
	}
	return s.cfg.CampaignFetchLimit
}

func (s *Scheduler) concurrency() int {
	if s.cfg.MaxConcurrentRuns <= 0 {
		return 4
	}
	return s.cfg.MaxConcurrentRuns
}
