// Package compliance decides whether outreach to a contact must stop, based on a
// local opt-out scan and the sentiment of the contact's messages.
package compliance

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	"github.com/acme/lead-outreach-orchestrator/internal/nlp"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

const (
	truncationMarker = "..."
	// ReasonNegativeSentiment is the block reason of the optional sentiment threshold.
	ReasonNegativeSentiment = "negative_sentiment"
)

// Options tune a Gate.
type Options struct {
	Language        string
	MaxInputBytes   int
	TopKeywords     int
	ExtractKeywords bool
	// NegativeBlockThreshold blocks when the negative score reaches it. Zero disables.
	NegativeBlockThreshold int
	OptOutKeywords         map[string][]string
}

// OptionsFromConfig converts the compliance config section.
func OptionsFromConfig(cfg config.ComplianceConfig) Options {
	return Options{
		Language:               cfg.Language,
		MaxInputBytes:          cfg.MaxInputBytes,
		TopKeywords:            cfg.TopKeywords,
		ExtractKeywords:        cfg.ExtractKeywords,
		NegativeBlockThreshold: cfg.NegativeBlockThreshold,
		OptOutKeywords:         cfg.OptOutKeywords,
	}
}

// Gate evaluates inbound text. It never fails: provider errors degrade to a
// neutral verdict while the local opt-out scan still applies.
type Gate struct {
	sentiment nlp.SentimentAnalyzer
	phrases   nlp.KeyPhraseExtractor
	scanner   *optOutScanner
	opts      Options
	logger    *logger.Logger
}

// NewGate constructs a Gate. phrases may be nil.
func NewGate(sentiment nlp.SentimentAnalyzer, phrases nlp.KeyPhraseExtractor, opts Options, lg *logger.Logger) *Gate {
	if lg == nil {
		lg = logger.Nop()
	}
	if opts.Language == "" {
		opts.Language = "pt"
	}
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = 5000
	}
	if opts.TopKeywords <= 0 {
		opts.TopKeywords = 10
	}
	keywords := DefaultOptOutKeywords()
	for category, list := range opts.OptOutKeywords {
		keywords[category] = list
	}
	return &Gate{
		sentiment: sentiment,
		phrases:   phrases,
		scanner:   newOptOutScanner(keywords),
		opts:      opts,
		logger:    lg.With(zap.String("component", "compliance_gate")),
	}
}

// Evaluate classifies text. An empty language uses the configured default.
func (g *Gate) Evaluate(ctx context.Context, text, language string) domain.SentimentVerdict {
	if language == "" {
		language = g.opts.Language
	}
	normalized := normalizeWhitespace(text)
	capped := capBytes(normalized, g.opts.MaxInputBytes)

	category, phrase, optedOut := g.scanner.scan(normalized)

	verdict, err := g.analyze(ctx, capped, language)
	if err != nil {
		g.logger.Warn("sentiment provider unavailable, using neutral verdict", zap.Error(err))
		verdict = degradedVerdict()
	}

	switch {
	case optedOut:
		verdict.Block = true
		verdict.BlockReason = category
		verdict.Keywords = append([]string{phrase}, verdict.Keywords...)
	case g.opts.NegativeBlockThreshold > 0 && !verdict.Degraded && verdict.Scores.Negative >= g.opts.NegativeBlockThreshold:
		verdict.Block = true
		verdict.BlockReason = ReasonNegativeSentiment
	}

	metrics.SentimentVerdicts.WithLabelValues(
		string(verdict.Category),
		strconv.FormatBool(verdict.Block),
		strconv.FormatBool(verdict.Degraded),
	).Inc()
	if verdict.Block {
		g.logger.Info("outreach blocked", zap.String("reason", verdict.BlockReason), zap.String("category", string(verdict.Category)))
	}
	return verdict
}

// analyze consults the provider. Any error is returned for Evaluate to degrade.
func (g *Gate) analyze(ctx context.Context, text, language string) (domain.SentimentVerdict, error) {
	if text == "" {
		return domain.SentimentVerdict{Category: domain.SentimentNeutral}, nil
	}

	res, err := g.sentiment.AnalyzeSentiment(ctx, text, language)
	if err != nil {
		return domain.SentimentVerdict{}, err
	}

	scores := domain.SentimentScores{
		Positive: percent(res.Positive),
		Neutral:  percent(res.Neutral),
		Negative: percent(res.Negative),
		Mixed:    percent(res.Mixed),
	}
	verdict := domain.SentimentVerdict{
		Category:   res.Category,
		Confidence: scores.Max(),
		Scores:     scores,
		Keywords:   []string{},
	}
	if verdict.Category == "" {
		verdict.Category = domain.SentimentNeutral
	}

	if g.opts.ExtractKeywords && g.phrases != nil {
		verdict.Keywords = g.keywords(ctx, text, language)
	}
	return verdict, nil
}

// keywords is best-effort: a failure yields an empty list.
func (g *Gate) keywords(ctx context.Context, text, language string) []string {
	phrases, err := g.phrases.ExtractKeyPhrases(ctx, text, language)
	if err != nil {
		g.logger.Warn("key phrase extraction failed", zap.Error(err))
		return []string{}
	}
	sort.SliceStable(phrases, func(i, j int) bool { return phrases[i].Score > phrases[j].Score })
	if len(phrases) > g.opts.TopKeywords {
		phrases = phrases[:g.opts.TopKeywords]
	}
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, p.Text)
	}
	return out
}

func degradedVerdict() domain.SentimentVerdict {
	return domain.SentimentVerdict{
		Category: domain.SentimentNeutral,
		Keywords: []string{},
		Degraded: true,
	}
}

func percent(f float64) int {
	return int(math.Round(f * 100))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capBytes keeps s within limit bytes, cutting on a rune boundary and appending
// the truncation marker inside the limit.
func capBytes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit - len(truncationMarker)
	if cut <= 0 {
		return truncationMarker[:limit]
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
