package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Scylla      ScyllaConfig      `mapstructure:"scylla"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Compliance  ComplianceConfig  `mapstructure:"compliance"`
	Channel     ChannelConfig     `mapstructure:"channel"`
	Calendar    CalendarConfig    `mapstructure:"calendar"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Triggers        TriggerTopics `mapstructure:"triggers"`
	Events          EventTopics   `mapstructure:"events"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// RetryConfig routes failed triggers through delayed retry topics and finally
// to a dead-letter topic.
type RetryConfig struct {
	Stages          []RetryStageConfig `mapstructure:"stages"`
	DeadLetterTopic string             `mapstructure:"dead_letter_topic"`
	ConsumerGroupID string             `mapstructure:"consumer_group_id"`
}

// RetryStageConfig is one retry topic and the delay before its messages are
// handled again.
type RetryStageConfig struct {
	Topic string        `mapstructure:"topic"`
	Delay time.Duration `mapstructure:"delay"`
}

// TriggerTopics are the inbound topics that invoke the orchestrator.
type TriggerTopics struct {
	ScheduleRequest      string `mapstructure:"schedule_request"`
	ScheduleConfirmation string `mapstructure:"schedule_confirmation"`
	CampaignDispatch     string `mapstructure:"campaign_dispatch"`
	InboundMessage       string `mapstructure:"inbound_message"`
}

// EventTopics are the outbound topics the orchestrator publishes to.
type EventTopics struct {
	DispatchSent      string `mapstructure:"dispatch_sent"`
	ScheduleConfirmed string `mapstructure:"schedule_confirmed"`
	EmailOutbound     string `mapstructure:"email_outbound"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	CampaignFetchLimit int           `mapstructure:"campaign_fetch_limit"`
	MaxConcurrentRuns  int           `mapstructure:"max_concurrent_runs"`
}

// ResilienceConfig drives the shared remote-call client.
type ResilienceConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       float64       `mapstructure:"jitter"`
}

// WindowConfig is one sliding-window ceiling.
type WindowConfig struct {
	Period  time.Duration `mapstructure:"period"`
	Ceiling int           `mapstructure:"ceiling"`
}

type DispatchConfig struct {
	TimeZone           string         `mapstructure:"time_zone"`
	BusinessDays       []string       `mapstructure:"business_days"`
	BusinessStart      string         `mapstructure:"business_start"`
	BusinessEnd        string         `mapstructure:"business_end"`
	JitterMax          time.Duration  `mapstructure:"jitter_max"`
	JitterFloor        time.Duration  `mapstructure:"jitter_floor"`
	MaxLeadsPerRun     int            `mapstructure:"max_leads_per_run"`
	ActionableStatuses []string       `mapstructure:"actionable_statuses"`
	TenantLimits       []WindowConfig `mapstructure:"tenant_limits"`
}

type NegotiationConfig struct {
	TimeZone             string        `mapstructure:"time_zone"`
	LookAheadDays        int           `mapstructure:"look_ahead_days"`
	WorkStart            string        `mapstructure:"work_start"`
	WorkEnd              string        `mapstructure:"work_end"`
	WorkingDays          []string      `mapstructure:"working_days"`
	MeetingDuration      time.Duration `mapstructure:"meeting_duration"`
	MaxProposedSlots     int           `mapstructure:"max_proposed_slots"`
	BriefingInteractions int           `mapstructure:"briefing_interactions"`
	BriefingTruncate     int           `mapstructure:"briefing_truncate"`
}

type ComplianceConfig struct {
	Language               string              `mapstructure:"language"`
	MaxInputBytes          int                 `mapstructure:"max_input_bytes"`
	TopKeywords            int                 `mapstructure:"top_keywords"`
	ExtractKeywords        bool                `mapstructure:"extract_keywords"`
	NegativeBlockThreshold int                 `mapstructure:"negative_block_threshold"`
	OptOutKeywords         map[string][]string `mapstructure:"opt_out_keywords"`
}

type ChannelConfig struct {
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Email    EmailConfig    `mapstructure:"email"`
}

type WhatsAppConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	APIVersion     string         `mapstructure:"api_version"`
	PhoneNumberID  string         `mapstructure:"phone_number_id"`
	TokenSecret    string         `mapstructure:"token_secret"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	AwaitInterval  time.Duration  `mapstructure:"await_interval"`
	Limits         []WindowConfig `mapstructure:"limits"`
	Simulate       bool           `mapstructure:"simulate"`
	SuccessRate    float64        `mapstructure:"success_rate"`
}

type EmailConfig struct {
	FromAddress string `mapstructure:"from_address"`
	Subject     string `mapstructure:"subject"`
}

type CalendarConfig struct {
	DefaultCalendarID    string `mapstructure:"default_calendar_id"`
	ServiceAccountSecret string `mapstructure:"service_account_secret"`
	ImpersonateUser      string `mapstructure:"impersonate_user"`
}

type CredentialsConfig struct {
	Source    string                   `mapstructure:"source"`
	AWSRegion string                   `mapstructure:"aws_region"`
	CacheTTL  map[string]time.Duration `mapstructure:"cache_ttl"`
	Static    map[string]string        `mapstructure:"static"`
}

type IdempotencyConfig struct {
	Backend  string        `mapstructure:"backend"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "lead-outreach"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	r := &c.Resilience
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.Jitter <= 0 {
		r.Jitter = 0.25
	}

	d := &c.Dispatch
	if d.TimeZone == "" {
		d.TimeZone = "America/Sao_Paulo"
	}
	if len(d.BusinessDays) == 0 {
		d.BusinessDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}
	if d.BusinessStart == "" {
		d.BusinessStart = "08:00"
	}
	if d.BusinessEnd == "" {
		d.BusinessEnd = "18:00"
	}
	if d.JitterMax <= 0 {
		d.JitterMax = 5 * time.Minute
	}
	if d.JitterFloor <= 0 {
		d.JitterFloor = 10 * time.Second
	}
	if d.MaxLeadsPerRun <= 0 {
		d.MaxLeadsPerRun = 50
	}
	if len(d.ActionableStatuses) == 0 {
		d.ActionableStatuses = []string{"enriched", "contacted", "replied"}
	}
	if len(d.TenantLimits) == 0 {
		d.TenantLimits = []WindowConfig{
			{Period: time.Hour, Ceiling: 100},
			{Period: 24 * time.Hour, Ceiling: 500},
		}
	}

	n := &c.Negotiation
	if n.TimeZone == "" {
		n.TimeZone = d.TimeZone
	}
	if n.LookAheadDays <= 0 {
		n.LookAheadDays = 7
	}
	if n.WorkStart == "" {
		n.WorkStart = "09:00"
	}
	if n.WorkEnd == "" {
		n.WorkEnd = "18:00"
	}
	if len(n.WorkingDays) == 0 {
		n.WorkingDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}
	if n.MeetingDuration <= 0 {
		n.MeetingDuration = time.Hour
	}
	if n.MaxProposedSlots <= 0 {
		n.MaxProposedSlots = 3
	}
	if n.BriefingInteractions <= 0 {
		n.BriefingInteractions = 10
	}
	if n.BriefingTruncate <= 0 {
		n.BriefingTruncate = 280
	}

	cc := &c.Compliance
	if cc.Language == "" {
		cc.Language = "pt"
	}
	if cc.MaxInputBytes <= 0 {
		cc.MaxInputBytes = 5000
	}
	if cc.TopKeywords <= 0 {
		cc.TopKeywords = 10
	}

	w := &c.Channel.WhatsApp
	if w.BaseURL == "" {
		w.BaseURL = "https://graph.facebook.com"
	}
	if w.APIVersion == "" {
		w.APIVersion = "v19.0"
	}
	if w.TokenSecret == "" {
		w.TokenSecret = "whatsapp/access_token"
	}
	if w.AwaitInterval <= 0 {
		w.AwaitInterval = 100 * time.Millisecond
	}
	if len(w.Limits) == 0 {
		w.Limits = []WindowConfig{
			{Period: time.Second, Ceiling: 80},
			{Period: time.Minute, Ceiling: 1000},
			{Period: time.Hour, Ceiling: 10000},
		}
	}

	if c.Calendar.DefaultCalendarID == "" {
		c.Calendar.DefaultCalendarID = "primary"
	}
	if c.Calendar.ServiceAccountSecret == "" {
		c.Calendar.ServiceAccountSecret = "google/service_account"
	}

	if c.Credentials.Source == "" {
		c.Credentials.Source = "static"
	}
	if c.Credentials.CacheTTL == nil {
		c.Credentials.CacheTTL = map[string]time.Duration{}
	}
	if _, ok := c.Credentials.CacheTTL[w.TokenSecret]; !ok {
		c.Credentials.CacheTTL[w.TokenSecret] = 50 * time.Minute
	}
	if _, ok := c.Credentials.CacheTTL[c.Calendar.ServiceAccountSecret]; !ok {
		c.Credentials.CacheTTL[c.Calendar.ServiceAccountSecret] = 5 * time.Minute
	}

	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.Capacity <= 0 {
		c.Idempotency.Capacity = 10000
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 48 * time.Hour
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "outreach:ratelimit"
	}

	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 15 * time.Minute
	}
	if c.Scheduler.CampaignFetchLimit <= 0 {
		c.Scheduler.CampaignFetchLimit = 100
	}
	if c.Scheduler.MaxConcurrentRuns <= 0 {
		c.Scheduler.MaxConcurrentRuns = 4
	}

	k := &c.Kafka
	if k.Triggers.ScheduleRequest == "" {
		k.Triggers.ScheduleRequest = "schedule_request"
	}
	if k.Triggers.ScheduleConfirmation == "" {
		k.Triggers.ScheduleConfirmation = "schedule_confirmation"
	}
	if k.Triggers.CampaignDispatch == "" {
		k.Triggers.CampaignDispatch = "campaign_dispatch"
	}
	if k.Triggers.InboundMessage == "" {
		k.Triggers.InboundMessage = "inbound_message"
	}
	if k.Events.DispatchSent == "" {
		k.Events.DispatchSent = "disparo.sent"
	}
	if k.Events.ScheduleConfirmed == "" {
		k.Events.ScheduleConfirmed = "agendamento.confirmed"
	}
	if k.Events.EmailOutbound == "" {
		k.Events.EmailOutbound = "email.outbound"
	}
	if len(k.Retry.Stages) == 0 {
		k.Retry.Stages = []RetryStageConfig{
			{Topic: "outreach.trigger.retry.1", Delay: 30 * time.Second},
			{Topic: "outreach.trigger.retry.2", Delay: 5 * time.Minute},
			{Topic: "outreach.trigger.retry.3", Delay: 30 * time.Minute},
		}
	}
	if k.Retry.DeadLetterTopic == "" {
		k.Retry.DeadLetterTopic = "outreach.trigger.dead_letter"
	}
	if k.Retry.ConsumerGroupID == "" && k.ConsumerGroupID != "" {
		k.Retry.ConsumerGroupID = k.ConsumerGroupID + "-retry"
	}
}
