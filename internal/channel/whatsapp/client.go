// Package whatsapp sends chat messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/ratelimit"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

const (
	serverName = "whatsapp"
	limiterKey = "global"
)

// TokenSource yields the bearer token and forgets it once rejected.
type TokenSource interface {
	Get(ctx context.Context, name string) (string, error)
	Invalidate(name string)
}

// Client implements channel.Sender and channel.StatusChecker.
type Client struct {
	http          *http.Client
	baseURL       string
	phoneNumberID string
	tokenSecret   string
	tokens        TokenSource
	limiter       ratelimit.Limiter
	awaitInterval time.Duration
	calls         *resilience.Client
	logger        *logger.Logger
}

// NewClient constructs a WhatsApp client. limiter is the channel-wide limiter.
func NewClient(cfg config.WhatsAppConfig, tokens TokenSource, limiter ratelimit.Limiter, calls *resilience.Client, lg *logger.Logger) *Client {
	if lg == nil {
		lg = logger.Nop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		tokenSecret:   cfg.TokenSecret,
		tokens:        tokens,
		limiter:       limiter,
		awaitInterval: cfg.AwaitInterval,
		calls:         calls,
		logger:        lg.With(zap.String("component", "whatsapp")),
	}
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status"`
	} `json:"messages"`
}

type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Errors []struct {
		Code int `json:"code"`
	} `json:"errors"`
}

// Send implements channel.Sender.
func (c *Client) Send(ctx context.Context, req channel.SendRequest) (domain.DeliveryReceipt, error) {
	to := normalizePhone(req.To)
	if to == "" {
		return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindValidation, "recipient phone is empty", nil)
	}
	if strings.TrimSpace(req.Body) == "" {
		return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindValidation, "message body is empty", nil)
	}

	payload, err := json.Marshal(sendPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: req.Body},
	})
	if err != nil {
		return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindValidation, "encode message", err)
	}

	call := resilience.Call{
		Server: serverName,
		Method: "messages.send",
		Params: map[string]any{"lead_id": req.LeadID.String(), "idempotency_key": req.IdempotencyKey},
	}
	return resilience.Do(ctx, c.calls, call, func(ctx context.Context) (domain.DeliveryReceipt, error) {
		if err := ratelimit.AwaitSlot(ctx, c.limiter, limiterKey, c.awaitInterval); err != nil {
			return domain.DeliveryReceipt{}, err
		}

		var out sendResponse
		url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
		if err := c.do(ctx, http.MethodPost, url, payload, req.IdempotencyKey, &out); err != nil {
			return domain.DeliveryReceipt{}, err
		}
		if len(out.Messages) == 0 || out.Messages[0].ID == "" {
			return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindUnexpected, "response carried no message id", nil)
		}

		status := out.Messages[0].MessageStatus
		if status == "" {
			status = "accepted"
		}
		c.logger.Debug("message accepted", logger.Phone("to", to), zap.String("message_id", out.Messages[0].ID))
		return domain.DeliveryReceipt{
			MessageID: out.Messages[0].ID,
			Status:    status,
			Channel:   domain.ChannelChat,
			SentAt:    time.Now().UTC(),
		}, nil
	})
}

// Status implements channel.StatusChecker.
func (c *Client) Status(ctx context.Context, messageID string) (channel.DeliveryStatus, error) {
	if messageID == "" {
		return channel.DeliveryStatus{}, apperrors.NewClassified(apperrors.KindValidation, "message id is empty", nil)
	}
	call := resilience.Call{Server: serverName, Method: "messages.status", Params: map[string]any{"message_id": messageID}}
	return resilience.Do(ctx, c.calls, call, func(ctx context.Context) (channel.DeliveryStatus, error) {
		var out statusResponse
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/"+messageID, nil, "", &out); err != nil {
			return channel.DeliveryStatus{}, err
		}
		st := channel.DeliveryStatus{MessageID: messageID, Status: out.Status}
		if len(out.Errors) > 0 {
			st.ErrorCode = fmt.Sprintf("%d", out.Errors[0].Code)
		}
		return st, nil
	})
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, idempotencyKey string, out any) error {
	token, err := c.tokens.Get(ctx, c.tokenSecret)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return apperrors.NewClassified(apperrors.KindValidation, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if traceID := resilience.TraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(c.tokenSecret)
	}
	if resp.StatusCode >= 300 {
		return &apperrors.StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewClassified(apperrors.KindUnexpected, "decode response", err)
	}
	return nil
}

// normalizePhone keeps the digits of an E.164 number, which is what the API expects.
func normalizePhone(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
