// Package nlp defines the sentiment and key-phrase capabilities the compliance
// gate builds its decisions on.
package nlp

import (
	"context"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// SentimentResult carries the provider's raw scores as fractions in [0,1].
type SentimentResult struct {
	Category domain.SentimentCategory
	Positive float64
	Neutral  float64
	Negative float64
	Mixed    float64
}

// Phrase is one extracted key phrase.
type Phrase struct {
	Text  string
	Score float64
}

// SentimentAnalyzer classifies text.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, text, language string) (SentimentResult, error)
}

// KeyPhraseExtractor ranks the salient phrases of text.
type KeyPhraseExtractor interface {
	ExtractKeyPhrases(ctx context.Context, text, language string) ([]Phrase, error)
}
