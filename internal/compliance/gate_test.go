package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/nlp"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

type fakeSentiment struct {
	result nlp.SentimentResult
	err    error
	calls  int
	text   string
}

func (f *fakeSentiment) AnalyzeSentiment(_ context.Context, text, _ string) (nlp.SentimentResult, error) {
	f.calls++
	f.text = text
	return f.result, f.err
}

type fakePhrases struct {
	phrases []nlp.Phrase
	err     error
}

func (f *fakePhrases) ExtractKeyPhrases(context.Context, string, string) ([]nlp.Phrase, error) {
	return f.phrases, f.err
}

func positive() *fakeSentiment {
	return &fakeSentiment{result: nlp.SentimentResult{
		Category: domain.SentimentPositive,
		Positive: 0.914,
		Neutral:  0.056,
		Negative: 0.012,
		Mixed:    0.028,
	}}
}

func outage() *fakeSentiment {
	return &fakeSentiment{err: apperrors.NewClassified(apperrors.KindTimeout, "provider timed out", nil)}
}

func TestEvaluateScoresAndConfidence(t *testing.T) {
	g := NewGate(positive(), nil, Options{}, nil)

	v := g.Evaluate(context.Background(), "Adorei a proposta, vamos conversar!", "pt")

	assert.Equal(t, domain.SentimentPositive, v.Category)
	assert.Equal(t, domain.SentimentScores{Positive: 91, Neutral: 6, Negative: 1, Mixed: 3}, v.Scores)
	assert.Equal(t, 91, v.Confidence)
	assert.False(t, v.Block)
	assert.False(t, v.Degraded)
}

func TestEvaluateRoundedScoresNeedNotSumTo100(t *testing.T) {
	s := &fakeSentiment{result: nlp.SentimentResult{Category: domain.SentimentMixed, Positive: 0.3366, Neutral: 0.3366, Negative: 0.3268}}
	g := NewGate(s, nil, Options{}, nil)

	v := g.Evaluate(context.Background(), "hmm", "pt")

	sum := v.Scores.Positive + v.Scores.Neutral + v.Scores.Negative + v.Scores.Mixed
	assert.NotEqual(t, 100, sum)
	assert.Equal(t, v.Scores.Max(), v.Confidence)
}

func TestEvaluateOptOutBlocksRegardlessOfProvider(t *testing.T) {
	cases := map[string]*fakeSentiment{
		"positive provider": positive(),
		"provider outage":   outage(),
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			g := NewGate(provider, nil, Options{}, nil)

			v := g.Evaluate(context.Background(), "pare de me enviar mensagens", "pt")

			require.True(t, v.Block)
			assert.Equal(t, CategoryStopRequest, v.BlockReason)
			assert.Contains(t, v.Keywords, "pare de me enviar")
		})
	}
}

func TestEvaluateOptOutIsCaseAndAccentInsensitive(t *testing.T) {
	g := NewGate(positive(), nil, Options{}, nil)

	cases := map[string]string{
		"PARE DE ME ENVIAR isso":                  CategoryStopRequest,
		"Não tenho   interesse, obrigado":         CategoryDisinterest,
		"conforme a LGPD exijo a exclusão":        CategoryDataProtection,
		"me deixe em paz":                         CategoryStrongRefusal,
		"Please UNSUBSCRIBE me":                   CategoryStopRequest,
		"Lei Geral de Proteção de Dados, art. 18": CategoryDataProtection,
	}
	for text, category := range cases {
		v := g.Evaluate(context.Background(), text, "pt")
		assert.True(t, v.Block, text)
		assert.Equal(t, category, v.BlockReason, text)
	}
}

func TestEvaluateDegradesOnProviderFailure(t *testing.T) {
	g := NewGate(outage(), nil, Options{}, nil)

	v := g.Evaluate(context.Background(), "Pode me ligar amanhã?", "pt")

	assert.Equal(t, domain.SentimentNeutral, v.Category)
	assert.Equal(t, 0, v.Confidence)
	assert.True(t, v.Degraded)
	assert.False(t, v.Block)
	assert.Empty(t, v.Keywords)
}

func TestEvaluateKeyPhrasesBestEffort(t *testing.T) {
	phrases := &fakePhrases{phrases: []nlp.Phrase{
		{Text: "reunião", Score: 0.7},
		{Text: "proposta comercial", Score: 0.99},
		{Text: "semana que vem", Score: 0.8},
	}}
	g := NewGate(positive(), phrases, Options{ExtractKeywords: true, TopKeywords: 2}, nil)

	v := g.Evaluate(context.Background(), "texto", "pt")
	assert.Equal(t, []string{"proposta comercial", "semana que vem"}, v.Keywords)

	phrases.err = errors.New("throttled")
	v = g.Evaluate(context.Background(), "texto", "pt")
	assert.Empty(t, v.Keywords)
	assert.False(t, v.Degraded)
	assert.Equal(t, domain.SentimentPositive, v.Category)
}

func TestEvaluateNegativeThreshold(t *testing.T) {
	s := &fakeSentiment{result: nlp.SentimentResult{Category: domain.SentimentNegative, Negative: 0.93, Neutral: 0.07}}

	g := NewGate(s, nil, Options{}, nil)
	assert.False(t, g.Evaluate(context.Background(), "péssimo", "pt").Block)

	g = NewGate(s, nil, Options{NegativeBlockThreshold: 90}, nil)
	v := g.Evaluate(context.Background(), "péssimo", "pt")
	assert.True(t, v.Block)
	assert.Equal(t, ReasonNegativeSentiment, v.BlockReason)
}

func TestEvaluateCustomKeywordsOverrideCategory(t *testing.T) {
	g := NewGate(positive(), nil, Options{OptOutKeywords: map[string][]string{CategoryDisinterest: {"talvez depois"}}}, nil)

	assert.True(t, g.Evaluate(context.Background(), "talvez depois", "pt").Block)
	assert.False(t, g.Evaluate(context.Background(), "não tenho interesse", "pt").Block)
}

func TestEvaluateCapsProviderInput(t *testing.T) {
	s := positive()
	g := NewGate(s, nil, Options{MaxInputBytes: 20}, nil)

	g.Evaluate(context.Background(), strings.Repeat("ação ", 10), "pt")

	assert.LessOrEqual(t, len(s.text), 20)
	assert.True(t, utf8.ValidString(s.text))
	assert.True(t, strings.HasSuffix(s.text, "..."))
}

func TestCapBytesRuneBoundary(t *testing.T) {
	assert.Equal(t, "abc", capBytes("abc", 5))
	// "é" is two bytes; a cut at byte 3 would split it.
	assert.Equal(t, "ab...", capBytes("abédef", 6))
	assert.Equal(t, "aé...", capBytes("aéééé", 7))
	assert.Equal(t, "..", capBytes("abcdef", 2))
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeWhitespace("  a\n\tb   c "))
}

func TestEvaluateEmptyTextSkipsProvider(t *testing.T) {
	s := positive()
	g := NewGate(s, nil, Options{}, nil)

	v := g.Evaluate(context.Background(), "   ", "pt")
	assert.Equal(t, domain.SentimentNeutral, v.Category)
	assert.Equal(t, 0, s.calls)
}
