package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/compliance"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/repository/memory"
	"github.com/acme/lead-outreach-orchestrator/internal/service/negotiation"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

type publishedTrigger struct {
	key   string
	value any
}

type stubTriggers struct {
	published []publishedTrigger
	err       error
}

func (s *stubTriggers) Publish(_ context.Context, key string, v any) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, publishedTrigger{key: key, value: v})
	return nil
}

type stubNegotiator struct {
	proposeErr  error
	confirmErr  error
	lastPropose negotiation.ProposeRequest
}

func (s *stubNegotiator) Propose(_ context.Context, req negotiation.ProposeRequest) (negotiation.Proposal, error) {
	s.lastPropose = req
	if s.proposeErr != nil {
		return negotiation.Proposal{}, s.proposeErr
	}
	start := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	return negotiation.Proposal{
		Notice: "1) sex 08/03 às 09:00",
		Negotiation: &domain.ScheduleNegotiation{
			ID: uuid.New(), LeadID: req.LeadID, State: domain.NegotiationProposed,
			ProposedSlots: []domain.Slot{{Start: start, End: start.Add(time.Hour)}},
		},
	}, nil
}

func (s *stubNegotiator) Confirm(_ context.Context, req negotiation.ConfirmRequest) (*domain.ScheduleNegotiation, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	start := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	slot := domain.Slot{Start: start, End: start.Add(time.Hour)}
	return &domain.ScheduleNegotiation{
		ID: uuid.New(), LeadID: req.LeadID, State: domain.NegotiationConfirmed,
		ProposedSlots: []domain.Slot{slot}, ChosenSlot: &slot, ExternalEventID: "evt-1",
	}, nil
}

type stubGate struct{}

func (stubGate) Evaluate(_ context.Context, text, _ string) domain.SentimentVerdict {
	if text == "pare de me mandar mensagem" {
		return domain.SentimentVerdict{Category: domain.SentimentNeutral, Block: true, BlockReason: "stop_request"}
	}
	return domain.SentimentVerdict{Category: domain.SentimentPositive, Confidence: 91, Scores: domain.SentimentScores{Positive: 91, Neutral: 9}}
}

type stubInbound struct {
	err error
}

func (s *stubInbound) Handle(_ context.Context, msg compliance.InboundMessage) (domain.SentimentVerdict, error) {
	if s.err != nil {
		return domain.SentimentVerdict{}, s.err
	}
	return domain.SentimentVerdict{Category: domain.SentimentNeutral, Degraded: true}, nil
}

type stubStatus struct{}

func (stubStatus) Status(_ context.Context, id string) (channel.DeliveryStatus, error) {
	return channel.DeliveryStatus{MessageID: id, Status: "delivered"}, nil
}

type testAPI struct {
	app        *fiber.App
	campaigns  *memory.CampaignRepository
	leads      *memory.LeadRepository
	stats      *memory.StatisticsRepository
	triggers   *stubTriggers
	negotiator *stubNegotiator
	inbound    *stubInbound
	campaign   domain.Campaign
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		campaigns:  memory.NewCampaignRepository(),
		leads:      memory.NewLeadRepository(),
		stats:      memory.NewStatisticsRepository(),
		triggers:   &stubTriggers{},
		negotiator: &stubNegotiator{},
		inbound:    &stubInbound{},
	}
	api.campaign = domain.Campaign{
		ID: uuid.New(), TenantID: "tenant-1", Name: "Padarias", Channel: domain.ChannelChat,
		Status: domain.CampaignStatusActive, Cadence: domain.Cadence{MinInterval: 72 * time.Hour},
	}
	api.campaigns.Put(api.campaign)

	set := NewHandlerSet(Dependencies{
		Campaigns:    api.campaigns,
		Targets:      api.leads,
		AllowedHours: api.campaigns,
		Stats:        api.stats,
		Triggers:     api.triggers,
		Negotiator:   api.negotiator,
		Gate:         stubGate{},
		Inbound:      api.inbound,
		Status:       stubStatus{},
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
	})
	api.app = fiber.New(fiber.Config{ErrorHandler: set.ErrorHandler})
	set.Register(api.app)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	code, body := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestDispatchCampaignQueuesTrigger(t *testing.T) {
	api := newTestAPI(t)
	code, body := api.do(t, http.MethodPost, "/api/v1/campaigns/"+api.campaign.ID.String()+"/dispatch", nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "tenant-1", body["tenant_id"])
	assert.NotContains(t, body, "outcome")

	require.Len(t, api.triggers.published, 1)
	published := api.triggers.published[0]
	assert.Equal(t, api.campaign.ID.String(), published.key)
	trigger, ok := published.value.(queue.CampaignDispatchTrigger)
	require.True(t, ok)
	assert.Equal(t, api.campaign.ID, trigger.CampaignID)
	assert.Equal(t, trigger.TraceID, body["trace_id"])
	assert.NotEmpty(t, trigger.TraceID)
}

func TestDispatchUnknownCampaignIs404(t *testing.T) {
	api := newTestAPI(t)
	code, _ := api.do(t, http.MethodPost, "/api/v1/campaigns/"+uuid.NewString()+"/dispatch", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/campaigns/not-a-uuid/dispatch", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, api.triggers.published)
}

func TestDispatchInactiveCampaignIs400(t *testing.T) {
	api := newTestAPI(t)
	paused := api.campaign
	paused.Status = domain.CampaignStatusPaused
	api.campaigns.Put(paused)

	code, _ := api.do(t, http.MethodPost, "/api/v1/campaigns/"+api.campaign.ID.String()+"/dispatch", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, api.triggers.published)
}

func TestDispatchPublishFailureIs503(t *testing.T) {
	api := newTestAPI(t)
	api.triggers.err = errors.New("kafka: leader not available")

	code, _ := api.do(t, http.MethodPost, "/api/v1/campaigns/"+api.campaign.ID.String()+"/dispatch", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCampaignStats(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.stats.Record(context.Background(), domain.RunReport{
		CampaignID: api.campaign.ID, Outcome: domain.DispatchOutcomeCompleted, Sent: 3, FinishedAt: time.Now().UTC(),
	}))

	code, body := api.do(t, http.MethodGet, "/api/v1/campaigns/"+api.campaign.ID.String()+"/stats", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["messages_sent"])
	assert.EqualValues(t, 1, body["runs"])
}

func TestReplaceAllowedHours(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/v1/campaigns/" + api.campaign.ID.String() + "/allowed-hours"

	code, _ := api.do(t, http.MethodPut, path, allowedHoursRequest{Windows: []allowedHourRequest{
		{DayOfWeek: 5, Start: "22:00", End: "02:00"},
	}})
	assert.Equal(t, http.StatusOK, code)

	c, err := api.campaigns.Get(context.Background(), api.campaign.ID)
	require.NoError(t, err)
	require.Len(t, c.Cadence.AllowedHours, 1)
	assert.Equal(t, time.Friday, c.Cadence.AllowedHours[0].DayOfWeek)

	code, _ = api.do(t, http.MethodPut, path, allowedHoursRequest{Windows: []allowedHourRequest{
		{DayOfWeek: 9, Start: "08:00", End: "10:00"},
	}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAssignLeads(t *testing.T) {
	api := newTestAPI(t)
	lead := domain.Lead{ID: uuid.New(), TenantID: "tenant-1", Status: domain.LeadStatusEnriched}
	api.leads.Put(lead)
	path := "/api/v1/campaigns/" + api.campaign.ID.String() + "/leads"

	code, body := api.do(t, http.MethodPost, path, assignLeadsRequest{LeadIDs: []uuid.UUID{lead.ID}})
	assert.Equal(t, http.StatusAccepted, code)
	assert.EqualValues(t, 1, body["assigned"])

	code, _ = api.do(t, http.MethodPost, path, assignLeadsRequest{LeadIDs: []uuid.UUID{uuid.New()}})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProposeSchedule(t *testing.T) {
	api := newTestAPI(t)
	leadID := uuid.New()

	code, body := api.do(t, http.MethodPost, "/api/v1/leads/"+leadID.String()+"/schedule/propose",
		proposeRequest{DurationMinutes: 30})
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, false, body["no_availability"])
	assert.Equal(t, 30*time.Minute, api.negotiator.lastPropose.Duration)
	neg, ok := body["negotiation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "proposed", neg["state"])
}

func TestConfirmScheduleRequiresSlot(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/v1/leads/" + uuid.NewString() + "/schedule/confirm"

	code, _ := api.do(t, http.MethodPost, path, confirmRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := api.do(t, http.MethodPost, path, confirmRequest{SlotIndex: 1})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", body["state"])
	assert.Equal(t, "evt-1", body["external_event_id"])
}

func TestConfirmWithoutProposalIs404(t *testing.T) {
	api := newTestAPI(t)
	api.negotiator.confirmErr = apperrors.ErrNotFound
	code, _ := api.do(t, http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/schedule/confirm", confirmRequest{SlotIndex: 1})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCalendarAuthFailureIs502(t *testing.T) {
	api := newTestAPI(t)
	api.negotiator.proposeErr = apperrors.FromStatus(http.StatusUnauthorized, "invalid credentials", nil)
	code, _ := api.do(t, http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/schedule/propose", nil)
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestEvaluateSentiment(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, http.MethodPost, "/api/v1/sentiment/evaluate", evaluateRequest{Text: "adorei a proposta"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "POSITIVE", body["category"])
	assert.EqualValues(t, 91, body["confidence"])

	code, body = api.do(t, http.MethodPost, "/api/v1/sentiment/evaluate", evaluateRequest{Text: "pare de me mandar mensagem"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["block"])
	assert.Equal(t, "stop_request", body["block_reason"])

	code, _ = api.do(t, http.MethodPost, "/api/v1/sentiment/evaluate", evaluateRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInboundMessage(t *testing.T) {
	api := newTestAPI(t)
	code, body := api.do(t, http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/inbound", inboundRequest{Body: "ok"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["degraded"])

	api.inbound.err = apperrors.ErrNotFound
	code, _ = api.do(t, http.MethodPost, "/api/v1/leads/"+uuid.NewString()+"/inbound", inboundRequest{Body: "ok"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMessageStatus(t *testing.T) {
	api := newTestAPI(t)
	code, body := api.do(t, http.MethodGet, "/api/v1/messages/wamid.123/status", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "delivered", body["status"])
}
