package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

type evaluateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type scoresResponse struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
	Mixed    int `json:"mixed"`
}

type verdictResponse struct {
	Category    domain.SentimentCategory `json:"category"`
	Confidence  int                      `json:"confidence"`
	Scores      scoresResponse           `json:"scores"`
	Keywords    []string                 `json:"keywords"`
	Block       bool                     `json:"block"`
	BlockReason string                   `json:"block_reason,omitempty"`
	Degraded    bool                     `json:"degraded"`
}

type deliveryStatusResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (h *HandlerSet) evaluateSentiment(ctx *fiber.Ctx) error {
	var req evaluateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	if strings.TrimSpace(req.Text) == "" {
		return badRequest("text is required")
	}
	verdict := h.deps.Gate.Evaluate(ctx.UserContext(), req.Text, req.Language)
	return ctx.JSON(toVerdictResponse(verdict))
}

func (h *HandlerSet) messageStatus(ctx *fiber.Ctx) error {
	if h.deps.Status == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "delivery status is not available")
	}
	id := ctx.Params("id")
	if id == "" {
		return badRequest("invalid message id")
	}
	status, err := h.deps.Status.Status(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(deliveryStatusResponse{MessageID: status.MessageID, Status: status.Status, ErrorCode: status.ErrorCode})
}

func toVerdictResponse(v domain.SentimentVerdict) verdictResponse {
	keywords := v.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return verdictResponse{
		Category:   v.Category,
		Confidence: v.Confidence,
		Scores: scoresResponse{
			Positive: v.Scores.Positive,
			Neutral:  v.Scores.Neutral,
			Negative: v.Scores.Negative,
			Mixed:    v.Scores.Mixed,
		},
		Keywords:    keywords,
		Block:       v.Block,
		BlockReason: v.BlockReason,
		Degraded:    v.Degraded,
	}
}
