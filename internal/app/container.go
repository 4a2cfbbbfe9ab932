package app

import (
	"context"
	"fmt"

	"github.com/acme/lead-outreach-orchestrator/internal/api/handlers"
	"github.com/acme/lead-outreach-orchestrator/internal/calendar/google"
	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/channel/email"
	"github.com/acme/lead-outreach-orchestrator/internal/channel/simulated"
	"github.com/acme/lead-outreach-orchestrator/internal/channel/whatsapp"
	"github.com/acme/lead-outreach-orchestrator/internal/compliance"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/credentials"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/idempotency"
	"github.com/acme/lead-outreach-orchestrator/internal/infra/db"
	"github.com/acme/lead-outreach-orchestrator/internal/infra/redis"
	"github.com/acme/lead-outreach-orchestrator/internal/nlp/comprehend"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/ratelimit"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	pgrepo "github.com/acme/lead-outreach-orchestrator/internal/repository/postgres"
	scyllarepo "github.com/acme/lead-outreach-orchestrator/internal/repository/scylla"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	"github.com/acme/lead-outreach-orchestrator/internal/service/dispatch"
	"github.com/acme/lead-outreach-orchestrator/internal/service/negotiation"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	repositories *Repositories
	services     *Services
	publishers   *publishers
}

// Repositories are the storage adapters.
type Repositories struct {
	Leads        *pgrepo.LeadRepository
	Campaigns    *pgrepo.CampaignRepository
	AllowedHours *pgrepo.AllowedHoursRepository
	Negotiations *pgrepo.NegotiationRepository
	Stats        *pgrepo.CampaignStatisticsRepository
	Interactions repository.InteractionStore
}

// Services are the orchestration components.
type Services struct {
	Dispatch    *dispatch.Engine
	Negotiation *negotiation.Service
	Gate        *compliance.Gate
	Inbound     *compliance.InboundHandler
	Status      channel.StatusChecker
}

type publishers struct {
	events   *queue.Events
	email    *queue.Publisher
	dispatch *queue.Publisher
	retries  *queue.RetryScheduler
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	if err := container.wire(ctx); err != nil {
		_ = container.Close(ctx)
		return nil, err
	}
	return container, nil
}

func (c *Container) wire(ctx context.Context) error {
	cfg := c.Config
	lg := c.Logger

	repos := &Repositories{
		Leads:        pgrepo.NewLeadRepository(c.Postgres.DB()),
		Campaigns:    pgrepo.NewCampaignRepository(c.Postgres.DB()),
		AllowedHours: pgrepo.NewAllowedHoursRepository(c.Postgres.DB()),
		Negotiations: pgrepo.NewNegotiationRepository(c.Postgres.DB()),
		Stats:        pgrepo.NewCampaignStatisticsRepository(c.Postgres.DB()),
		Interactions: scyllarepo.NewInteractionStore(c.Scylla.Session()),
	}

	pubs := &publishers{
		events: queue.NewEvents(
			queue.NewPublisher(c.Kafka, cfg.Kafka.Events.DispatchSent),
			queue.NewPublisher(c.Kafka, cfg.Kafka.Events.ScheduleConfirmed),
		),
		email:    queue.NewPublisher(c.Kafka, cfg.Kafka.Events.EmailOutbound),
		dispatch: queue.NewPublisher(c.Kafka, cfg.Kafka.Triggers.CampaignDispatch),
		retries:  queue.NewRetryScheduler(c.Kafka, cfg.Kafka.Retry),
	}
	c.publishers = pubs

	calls := resilience.NewClient(resilience.PolicyFromConfig(cfg.Resilience), lg)

	source, err := c.credentialSource(ctx)
	if err != nil {
		return err
	}
	secrets := credentials.NewCache(source, cfg.Credentials.CacheTTL, lg)

	channelLimiter, tenantLimiter := c.limiters()

	var (
		chat   channel.Sender
		status channel.StatusChecker
	)
	if cfg.Channel.WhatsApp.Simulate {
		sim := simulated.NewSender(cfg.Channel.WhatsApp.SuccessRate, 0)
		chat, status = sim, sim
	} else {
		wa := whatsapp.NewClient(cfg.Channel.WhatsApp, secrets, channelLimiter, calls, lg)
		chat, status = wa, wa
	}

	router := channel.NewRouter(map[domain.Channel]channel.Sender{
		domain.ChannelChat:  chat,
		domain.ChannelEmail: email.NewOutbox(cfg.Channel.Email, pubs.email, calls),
	})
	sender := channel.NewIdempotentSender(router, c.idempotencyStore(), lg)

	dispatchSettings, err := dispatch.SettingsFromConfig(cfg.Dispatch)
	if err != nil {
		return fmt.Errorf("dispatch settings: %w", err)
	}
	engine := dispatch.NewEngine(dispatchSettings, repos.Leads, repos.Interactions, sender, tenantLimiter, pubs.events, lg,
		dispatch.WithStats(repos.Stats))

	negotiationSettings, err := negotiation.SettingsFromConfig(cfg.Negotiation, cfg.Calendar)
	if err != nil {
		return fmt.Errorf("negotiation settings: %w", err)
	}
	cal := google.NewClient(cfg.Calendar, secrets, calls, lg)
	negotiator := negotiation.NewService(negotiationSettings, repos.Leads, repos.Negotiations, repos.Interactions,
		cal, cal, sender, pubs.events, lg)

	nlpClient, err := comprehend.New(ctx, cfg.Credentials.AWSRegion, calls)
	if err != nil {
		return fmt.Errorf("bootstrap comprehend: %w", err)
	}
	gate := compliance.NewGate(nlpClient, nlpClient, compliance.OptionsFromConfig(cfg.Compliance), lg)

	c.repositories = repos
	c.services = &Services{
		Dispatch:    engine,
		Negotiation: negotiator,
		Gate:        gate,
		Inbound:     compliance.NewInboundHandler(gate, repos.Leads, repos.Interactions, lg),
		Status:      status,
	}
	return nil
}

func (c *Container) credentialSource(ctx context.Context) (credentials.Source, error) {
	switch c.Config.Credentials.Source {
	case "secretsmanager", "aws":
		src, err := credentials.NewSecretsManagerSource(ctx, c.Config.Credentials.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("bootstrap secrets manager: %w", err)
		}
		return src, nil
	default:
		return credentials.NewStaticSource(c.Config.Credentials.Static), nil
	}
}

// limiters returns the global channel limiter and the per-tenant campaign limiter.
func (c *Container) limiters() (ratelimit.Limiter, ratelimit.Limiter) {
	channelWindows := ratelimit.WindowsFromConfig(c.Config.Channel.WhatsApp.Limits)
	tenantWindows := ratelimit.WindowsFromConfig(c.Config.Dispatch.TenantLimits)
	if c.Config.RateLimit.Backend == "redis" {
		prefix := c.Config.RateLimit.KeyPrefix
		return ratelimit.NewRedisLimiter(c.Redis.Inner(), "channel", prefix, channelWindows),
			ratelimit.NewRedisLimiter(c.Redis.Inner(), "tenant", prefix, tenantWindows)
	}
	return ratelimit.NewMemoryLimiter("channel", channelWindows),
		ratelimit.NewMemoryLimiter("tenant", tenantWindows)
}

func (c *Container) idempotencyStore() idempotency.Store {
	cfg := c.Config.Idempotency
	if cfg.Backend == "redis" {
		return idempotency.NewRedisStore(c.Redis.Inner(), "outreach:idempotency", cfg.TTL)
	}
	return idempotency.NewMemoryStore(cfg.Capacity, cfg.TTL)
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repositories {
	return c.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *Services {
	return c.services
}

// Retries exposes the trigger retry and dead-letter scheduler.
func (c *Container) Retries() *queue.RetryScheduler {
	return c.publishers.retries
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	return handlers.NewHandlerSet(handlers.Dependencies{
		Campaigns:    c.repositories.Campaigns,
		Targets:      c.repositories.Leads,
		AllowedHours: c.repositories.AllowedHours,
		Stats:        c.repositories.Stats,
		Triggers:     c.publishers.dispatch,
		Negotiator:   c.services.Negotiation,
		Gate:         c.services.Gate,
		Inbound:      c.services.Inbound,
		Status:       c.services.Status,
		Health: map[string]handlers.HealthCheck{
			"postgres": func(ctx context.Context) error { return c.Postgres.DB().PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return c.Redis.Inner().Ping(ctx).Err() },
			"scylla": func(ctx context.Context) error {
				return c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
			},
		},
		Logger: c.Logger,
	})
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.publishers; p != nil {
		if err := p.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publishers close: %w", err))
		}
		if err := p.email.Close(); err != nil {
			errs = append(errs, fmt.Errorf("email publisher close: %w", err))
		}
		if err := p.dispatch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispatch publisher close: %w", err))
		}
		if err := p.retries.Close(); err != nil {
			errs = append(errs, fmt.Errorf("retry scheduler close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	k := c.Config.Kafka
	triggers := []string{k.Triggers.ScheduleRequest, k.Triggers.ScheduleConfirmation, k.Triggers.CampaignDispatch, k.Triggers.InboundMessage}
	for _, stage := range k.Retry.Stages {
		triggers = append(triggers, stage.Topic)
	}
	triggers = append(triggers, k.Retry.DeadLetterTopic)
	if err := c.Kafka.EnsureTopics(ctx, triggers, 12, 1); err != nil {
		return err
	}
	events := []string{k.Events.DispatchSent, k.Events.ScheduleConfirmed, k.Events.EmailOutbound}
	return c.Kafka.EnsureTopics(ctx, events, 12, 1)
}
