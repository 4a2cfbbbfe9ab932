// Package google implements the calendar capabilities on Google Calendar with a
// service account delegated to the sales calendar owner.
package google

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/acme/lead-outreach-orchestrator/internal/calendar"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

const serverName = "google_calendar"

// SecretSource yields the service-account JSON key.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// ServiceFactory builds a Calendar service from a service-account key.
type ServiceFactory func(ctx context.Context, key []byte) (*gcal.Service, error)

// Client implements calendar.AvailabilityQuerier and calendar.EventCreator.
type Client struct {
	secrets    SecretSource
	secretName string
	factory    ServiceFactory
	calls      *resilience.Client
	logger     *logger.Logger

	mu      sync.Mutex
	key     string
	service *gcal.Service
}

// NewClient constructs a Google Calendar client.
func NewClient(cfg config.CalendarConfig, secrets SecretSource, calls *resilience.Client, lg *logger.Logger) *Client {
	return NewClientWithFactory(cfg, secrets, calls, lg, DelegatedServiceFactory(cfg.ImpersonateUser))
}

// NewClientWithFactory allows replacing how services are built.
func NewClientWithFactory(cfg config.CalendarConfig, secrets SecretSource, calls *resilience.Client, lg *logger.Logger, factory ServiceFactory) *Client {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Client{
		secrets:    secrets,
		secretName: cfg.ServiceAccountSecret,
		factory:    factory,
		calls:      calls,
		logger:     lg.With(zap.String("component", "google_calendar")),
	}
}

// DelegatedServiceFactory authenticates with a JWT service account, optionally
// impersonating subject through domain-wide delegation.
func DelegatedServiceFactory(subject string) ServiceFactory {
	return func(ctx context.Context, key []byte) (*gcal.Service, error) {
		jwtCfg, err := google.JWTConfigFromJSON(key, gcal.CalendarScope)
		if err != nil {
			return nil, apperrors.NewClassified(apperrors.KindAuth, "invalid service account key", err)
		}
		jwtCfg.Subject = subject
		return gcal.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	}
}

// Availability implements calendar.AvailabilityQuerier.
func (c *Client) Availability(ctx context.Context, req calendar.AvailabilityRequest) ([]domain.Slot, error) {
	call := resilience.Call{
		Server: serverName,
		Method: "freebusy.query",
		Params: map[string]any{"calendar_id": req.CalendarID, "from": req.From, "to": req.To},
	}
	busy, err := resilience.Do(ctx, c.calls, call, func(ctx context.Context) ([]domain.Slot, error) {
		svc, err := c.serviceFor(ctx)
		if err != nil {
			return nil, err
		}
		zone := "UTC"
		if req.Location != nil {
			zone = req.Location.String()
		}
		resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
			TimeMin:  req.From.Format(time.RFC3339),
			TimeMax:  req.To.Format(time.RFC3339),
			TimeZone: zone,
			Items:    []*gcal.FreeBusyRequestItem{{Id: req.CalendarID}},
		}).Context(ctx).Do()
		if err != nil {
			return nil, mapError(err)
		}
		return busyIntervals(resp, req.CalendarID)
	})
	if err != nil {
		return nil, err
	}

	slots := calendar.FreeSlots(busy, req)
	c.logger.Debug("availability computed",
		zap.String("calendar_id", req.CalendarID),
		zap.Int("busy", len(busy)),
		zap.Int("free", len(slots)),
	)
	return slots, nil
}

// CreateEvent implements calendar.EventCreator. A Meet conference is requested
// with req.RequestID so a retried insert does not create a second conference.
func (c *Client) CreateEvent(ctx context.Context, req calendar.EventRequest) (calendar.CreatedEvent, error) {
	attendees := make([]*gcal.EventAttendee, 0, len(req.Attendees))
	for _, a := range req.Attendees {
		if a != "" {
			attendees = append(attendees, &gcal.EventAttendee{Email: a})
		}
	}
	event := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: req.Slot.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.Slot.End.Format(time.RFC3339)},
		Attendees:   attendees,
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             req.RequestID,
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	call := resilience.Call{
		Server: serverName,
		Method: "events.insert",
		Params: map[string]any{"calendar_id": req.CalendarID, "start": req.Slot.Start},
	}
	return resilience.Do(ctx, c.calls, call, func(ctx context.Context) (calendar.CreatedEvent, error) {
		svc, err := c.serviceFor(ctx)
		if err != nil {
			return calendar.CreatedEvent{}, err
		}
		created, err := svc.Events.Insert(req.CalendarID, event).
			ConferenceDataVersion(1).
			SendUpdates("all").
			Context(ctx).
			Do()
		if err != nil {
			return calendar.CreatedEvent{}, mapError(err)
		}
		return calendar.CreatedEvent{EventID: created.Id, JoinLink: joinLink(created)}, nil
	})
}

// serviceFor reuses the service until the cached key changes.
func (c *Client) serviceFor(ctx context.Context) (*gcal.Service, error) {
	key, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service != nil && c.key == key {
		return c.service, nil
	}
	// The service's token source outlives this attempt.
	svc, err := c.factory(context.WithoutCancel(ctx), []byte(key))
	if err != nil {
		return nil, err
	}
	c.key = key
	c.service = svc
	return svc, nil
}

func busyIntervals(resp *gcal.FreeBusyResponse, calendarID string) ([]domain.Slot, error) {
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		reason := cal.Errors[0].Reason
		if reason == "notFound" {
			return nil, apperrors.NewClassified(apperrors.KindValidation, "calendar not found: "+calendarID, nil)
		}
		return nil, apperrors.NewClassified(apperrors.KindServer, "freebusy error: "+reason, nil)
	}

	out := make([]domain.Slot, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, apperrors.NewClassified(apperrors.KindUnexpected, "parse busy start", err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, apperrors.NewClassified(apperrors.KindUnexpected, "parse busy end", err)
		}
		out = append(out, domain.Slot{Start: start, End: end})
	}
	return out, nil
}

func joinLink(e *gcal.Event) string {
	if e.HangoutLink != "" {
		return e.HangoutLink
	}
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.Uri
			}
		}
	}
	return ""
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &apperrors.StatusError{Code: gerr.Code, Body: gerr.Message}
	}
	return err
}
