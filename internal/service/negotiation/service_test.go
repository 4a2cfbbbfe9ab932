package negotiation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/calendar"
	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/idempotency"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	"github.com/acme/lead-outreach-orchestrator/internal/repository/memory"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

var brt = time.FixedZone("BRT", -3*60*60)

// Thursday 2024-03-07 15:00 BRT.
var thursday = time.Date(2024, 3, 7, 15, 0, 0, 0, brt)

type fakeCalendar struct {
	mu        sync.Mutex
	busy      []domain.Slot
	requests  []calendar.AvailabilityRequest
	created   []calendar.EventRequest
	createErr error
}

func (c *fakeCalendar) Availability(_ context.Context, req calendar.AvailabilityRequest) ([]domain.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return calendar.FreeSlots(c.busy, req), nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (calendar.CreatedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return calendar.CreatedEvent{}, c.createErr
	}
	c.created = append(c.created, req)
	return calendar.CreatedEvent{EventID: "evt-1", JoinLink: "https://meet.google.com/abc-defg-hij"}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []channel.SendRequest
}

func (n *recordingNotifier) Send(_ context.Context, req channel.SendRequest) (domain.DeliveryReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return domain.DeliveryReceipt{MessageID: "msg-" + req.IdempotencyKey[:8], Status: "accepted", Channel: req.Channel}, nil
}

type recordingPublisher struct {
	events []queue.ScheduleConfirmedEvent
}

func (p *recordingPublisher) PublishScheduleConfirmed(_ context.Context, evt queue.ScheduleConfirmedEvent) error {
	p.events = append(p.events, evt)
	return nil
}

type fixture struct {
	svc          *Service
	lead         domain.Lead
	leads        *memory.LeadRepository
	negotiations *memory.NegotiationRepository
	interactions *memory.InteractionStore
	calendar     *fakeCalendar
	notifier     *recordingNotifier
	publisher    *recordingPublisher
}

func newFixture(t *testing.T, notifier channel.Sender) *fixture {
	t.Helper()
	f := &fixture{
		lead: domain.Lead{
			ID:          uuid.New(),
			TenantID:    "tenant-1",
			ContactName: "Ana Souza",
			CompanyName: "Padaria Central",
			Phone:       "+5511999990000",
			Email:       "ana@padaria.com.br",
			Segment:     "varejo",
			CompanySize: "10-50",
			Objections:  []string{"preço", "já usa concorrente"},
			Status:      domain.LeadStatusReplied,
		},
		leads:        memory.NewLeadRepository(),
		negotiations: memory.NewNegotiationRepository(),
		interactions: memory.NewInteractionStore(),
		calendar:     &fakeCalendar{},
		notifier:     &recordingNotifier{},
		publisher:    &recordingPublisher{},
	}
	f.leads.Put(f.lead)
	if notifier == nil {
		notifier = f.notifier
	}
	f.svc = NewService(DefaultSettings(brt), f.leads, f.negotiations, f.interactions,
		f.calendar, f.calendar, notifier, f.publisher, logger.Nop())
	f.svc.now = func() time.Time { return thursday }
	return f
}

// wholeWindowBusy blocks every working hour of the look-ahead window.
func wholeWindowBusy() []domain.Slot {
	return []domain.Slot{{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, brt),
		End:   time.Date(2024, 3, 16, 0, 0, 0, 0, brt),
	}}
}

func TestProposeWithoutAvailabilitySendsNoticeOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.calendar.busy = wholeWindowBusy()

	proposal, err := f.svc.Propose(context.Background(), ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-a"})
	require.NoError(t, err)

	assert.True(t, proposal.NoAvailability)
	assert.Nil(t, proposal.Negotiation)
	assert.Empty(t, f.negotiations.All())
	require.Len(t, f.notifier.requests, 1)
	assert.Contains(t, f.notifier.requests[0].Body, "não temos horários livres")
	assert.Equal(t, domain.ChannelChat, f.notifier.requests[0].Channel)
}

func TestProposeOffersFirstThreeSlots(t *testing.T) {
	f := newFixture(t, nil)
	// Leave five free hours on Friday; everything else is busy.
	f.calendar.busy = []domain.Slot{
		{Start: time.Date(2024, 3, 8, 14, 0, 0, 0, brt), End: time.Date(2024, 3, 16, 0, 0, 0, 0, brt)},
	}

	proposal, err := f.svc.Propose(context.Background(), ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-b"})
	require.NoError(t, err)

	require.NotNil(t, proposal.Negotiation)
	n := proposal.Negotiation
	assert.Equal(t, domain.NegotiationProposed, n.State)
	require.Len(t, n.ProposedSlots, 3)
	assert.True(t, n.ProposedSlots[0].Start.Equal(time.Date(2024, 3, 8, 9, 0, 0, 0, brt)))
	assert.True(t, n.ProposedSlots[2].End.Equal(time.Date(2024, 3, 8, 12, 0, 0, 0, brt)))
	assert.Equal(t, "primary", n.CalendarID)

	stored := f.negotiations.All()
	require.Len(t, stored, 1)
	assert.Equal(t, n.ID, stored[0].ID)

	require.Len(t, f.calendar.requests, 1)
	req := f.calendar.requests[0]
	assert.True(t, req.From.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, brt)), "window starts tomorrow at midnight")
	assert.True(t, req.To.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, brt)))
	assert.Equal(t, time.Hour, req.Duration)

	require.Len(t, f.notifier.requests, 1)
	body := f.notifier.requests[0].Body
	assert.Contains(t, body, "1. sex 08/03 às 09:00")
	assert.Contains(t, body, "2. sex 08/03 às 10:00")
	assert.Contains(t, body, "3. sex 08/03 às 11:00")
	assert.NotContains(t, body, "4.")
}

func TestProposeDurationOverride(t *testing.T) {
	f := newFixture(t, nil)

	proposal, err := f.svc.Propose(context.Background(), ProposeRequest{LeadID: f.lead.ID, Duration: 30 * time.Minute, CalendarID: "sales@acme.com"})
	require.NoError(t, err)

	require.NotNil(t, proposal.Negotiation)
	assert.Equal(t, "sales@acme.com", proposal.Negotiation.CalendarID)
	assert.Equal(t, 30*time.Minute, proposal.Negotiation.ProposedSlots[0].End.Sub(proposal.Negotiation.ProposedSlots[0].Start))
}

func TestProposeUnknownLead(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Propose(context.Background(), ProposeRequest{LeadID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.Empty(t, f.calendar.requests)
}

func TestConfirmWithoutProposalFailsFast(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Confirm(context.Background(), ConfirmRequest{LeadID: f.lead.ID, SlotIndex: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Empty(t, f.calendar.created)
	assert.Empty(t, f.publisher.events)

	_, err = f.svc.Confirm(context.Background(), ConfirmRequest{LeadID: uuid.New(), SlotIndex: 1})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Empty(t, f.calendar.created)
}

func TestConfirmBooksChosenSlot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i, body := range []string{"Oi Ana, tudo bem?", "Tenho interesse, mas " + strings.Repeat("muito ", 80) + "caro"} {
		require.NoError(t, f.interactions.Append(ctx, domain.Interaction{
			ID: uuid.New(), LeadID: f.lead.ID, Channel: domain.ChannelChat,
			Direction: domain.DirectionInbound, Body: body,
			OccurredAt: thursday.Add(-time.Duration(2-i) * time.Hour),
		}))
	}

	proposal, err := f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-propose"})
	require.NoError(t, err)
	chosen := proposal.Negotiation.ProposedSlots[1]

	n, err := f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotStart: &chosen.Start, TraceID: "trace-confirm"})
	require.NoError(t, err)

	assert.Equal(t, domain.NegotiationConfirmed, n.State)
	assert.Equal(t, "evt-1", n.ExternalEventID)
	require.NotNil(t, n.ChosenSlot)
	assert.True(t, n.ChosenSlot.Start.Equal(chosen.Start))

	require.Len(t, f.calendar.created, 1)
	ev := f.calendar.created[0]
	assert.Equal(t, n.ID.String(), ev.RequestID)
	assert.Equal(t, []string{"ana@padaria.com.br"}, ev.Attendees)
	assert.Contains(t, ev.Description, "Segmento: varejo")
	assert.Contains(t, ev.Description, "Porte: 10-50")
	assert.Contains(t, ev.Description, "Objeções: preço; já usa concorrente")
	assert.Contains(t, ev.Description, "Oi Ana, tudo bem?")
	assert.NotContains(t, ev.Description, " caro", "long interactions are truncated")

	lead, err := f.leads.Get(ctx, f.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusScheduled, lead.Status)

	require.Len(t, f.publisher.events, 1)
	evt := f.publisher.events[0]
	assert.Equal(t, queue.EventScheduleConfirmed, evt.Event)
	assert.Equal(t, f.lead.ID, evt.LeadID)
	assert.Equal(t, "evt-1", evt.EventID)
	assert.True(t, evt.ChosenStart.Equal(chosen.Start))

	require.Len(t, f.notifier.requests, 2)
	assert.Contains(t, f.notifier.requests[1].Body, "Reunião confirmada")
	assert.Contains(t, f.notifier.requests[1].Body, "https://meet.google.com/abc-defg-hij")

	// The proposal is no longer pending.
	_, err = f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotIndex: 1})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestConfirmRejectsSlotOutsideProposal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID})
	require.NoError(t, err)

	other := time.Date(2024, 3, 8, 17, 0, 0, 0, brt)
	_, err = f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotStart: &other})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotIndex: 4})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, f.calendar.created)

	n, err := f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotIndex: 3})
	require.NoError(t, err)
	assert.True(t, n.ChosenSlot.Start.Equal(time.Date(2024, 3, 8, 11, 0, 0, 0, brt)))
}

func TestConfirmCalendarFailureKeepsProposal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID})
	require.NoError(t, err)

	f.calendar.createErr = apperrors.NewClassified(apperrors.KindAuth, "invalid_grant", nil)
	_, err = f.svc.Confirm(ctx, ConfirmRequest{LeadID: f.lead.ID, SlotIndex: 1})
	require.Error(t, err)

	pending, err := f.negotiations.LatestProposed(ctx, f.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NegotiationProposed, pending.State)
	assert.Empty(t, f.publisher.events)
}

func TestRedeliveredProposeDoesNotNotifyTwice(t *testing.T) {
	inner := &recordingNotifier{}
	notifier := channel.NewIdempotentSender(inner, idempotency.NewMemoryStore(100, time.Hour), logger.Nop())
	f := newFixture(t, notifier)
	f.calendar.busy = wholeWindowBusy()
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-1"})
	require.NoError(t, err)
	_, err = f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-1"})
	require.NoError(t, err)
	assert.Len(t, inner.requests, 1)

	_, err = f.svc.Propose(ctx, ProposeRequest{LeadID: f.lead.ID, TraceID: "trace-2"})
	require.NoError(t, err)
	assert.Len(t, inner.requests, 2)
}

func TestNoticeKeyDependsOnPhaseAndTrace(t *testing.T) {
	lead := uuid.New()
	assert.Equal(t, noticeKey(lead, phasePropose, "t1"), noticeKey(lead, phasePropose, "t1"))
	assert.NotEqual(t, noticeKey(lead, phasePropose, "t1"), noticeKey(lead, phaseConfirm, "t1"))
	assert.NotEqual(t, noticeKey(lead, phasePropose, "t1"), noticeKey(lead, phasePropose, "t2"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "ação", truncateRunes("ação", 4))
	assert.Equal(t, "açã...", truncateRunes("ação!", 3))
	assert.Equal(t, "a b", truncateRunes(" a \n b ", 10))
}
