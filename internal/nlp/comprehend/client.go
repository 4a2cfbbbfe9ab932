// Package comprehend implements the nlp capabilities on Amazon Comprehend.
package comprehend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/aws/smithy-go"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/nlp"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

const serverName = "comprehend"

// API is the subset of *comprehend.Client used here.
type API interface {
	DetectSentiment(ctx context.Context, in *comprehend.DetectSentimentInput, opts ...func(*comprehend.Options)) (*comprehend.DetectSentimentOutput, error)
	DetectKeyPhrases(ctx context.Context, in *comprehend.DetectKeyPhrasesInput, opts ...func(*comprehend.Options)) (*comprehend.DetectKeyPhrasesOutput, error)
}

// Client implements nlp.SentimentAnalyzer and nlp.KeyPhraseExtractor.
type Client struct {
	api   API
	calls *resilience.Client
}

// New loads the default AWS configuration for region.
func New(ctx context.Context, region string, calls *resilience.Client) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("comprehend: load aws config: %w", err)
	}
	return NewWithConfig(awsCfg, calls), nil
}

// NewWithConfig builds the service client from awsCfg. The SDK retryer is
// disabled; calls retries every request under its own ceiling.
func NewWithConfig(awsCfg aws.Config, calls *resilience.Client) *Client {
	api := comprehend.NewFromConfig(awsCfg, func(o *comprehend.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return NewWithAPI(api, calls)
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, calls *resilience.Client) *Client {
	return &Client{api: api, calls: calls}
}

// AnalyzeSentiment implements nlp.SentimentAnalyzer.
func (c *Client) AnalyzeSentiment(ctx context.Context, text, language string) (nlp.SentimentResult, error) {
	lang, err := languageCode(language)
	if err != nil {
		return nlp.SentimentResult{}, err
	}
	call := resilience.Call{Server: serverName, Method: "DetectSentiment", Params: map[string]any{"language": language, "bytes": len(text)}}
	return resilience.Do(ctx, c.calls, call, func(ctx context.Context) (nlp.SentimentResult, error) {
		out, err := c.api.DetectSentiment(ctx, &comprehend.DetectSentimentInput{
			Text:         aws.String(text),
			LanguageCode: lang,
		})
		if err != nil {
			return nlp.SentimentResult{}, mapError(err)
		}
		res := nlp.SentimentResult{Category: category(out.Sentiment)}
		if s := out.SentimentScore; s != nil {
			res.Positive = float64(aws.ToFloat32(s.Positive))
			res.Neutral = float64(aws.ToFloat32(s.Neutral))
			res.Negative = float64(aws.ToFloat32(s.Negative))
			res.Mixed = float64(aws.ToFloat32(s.Mixed))
		}
		return res, nil
	})
}

// ExtractKeyPhrases implements nlp.KeyPhraseExtractor.
func (c *Client) ExtractKeyPhrases(ctx context.Context, text, language string) ([]nlp.Phrase, error) {
	lang, err := languageCode(language)
	if err != nil {
		return nil, err
	}
	call := resilience.Call{Server: serverName, Method: "DetectKeyPhrases", Params: map[string]any{"language": language, "bytes": len(text)}}
	return resilience.Do(ctx, c.calls, call, func(ctx context.Context) ([]nlp.Phrase, error) {
		out, err := c.api.DetectKeyPhrases(ctx, &comprehend.DetectKeyPhrasesInput{
			Text:         aws.String(text),
			LanguageCode: lang,
		})
		if err != nil {
			return nil, mapError(err)
		}
		phrases := make([]nlp.Phrase, 0, len(out.KeyPhrases))
		for _, p := range out.KeyPhrases {
			phrases = append(phrases, nlp.Phrase{Text: aws.ToString(p.Text), Score: float64(aws.ToFloat32(p.Score))})
		}
		return phrases, nil
	})
}

func languageCode(language string) (types.LanguageCode, error) {
	lang := strings.TrimSpace(language)
	candidates := []string{lang}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		candidates = append(candidates, lang[:i])
	}
	for _, cand := range candidates {
		for _, v := range types.LanguageCode("").Values() {
			if strings.EqualFold(string(v), cand) {
				return v, nil
			}
		}
	}
	return "", apperrors.NewClassified(apperrors.KindValidation, "unsupported language "+language, nil)
}

func category(s types.SentimentType) domain.SentimentCategory {
	switch s {
	case types.SentimentTypePositive:
		return domain.SentimentPositive
	case types.SentimentTypeNegative:
		return domain.SentimentNegative
	case types.SentimentTypeMixed:
		return domain.SentimentMixed
	default:
		return domain.SentimentNeutral
	}
}

// mapError classifies service faults. Throttling counts as a server error so it
// is retried.
func mapError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return apperrors.NewClassified(apperrors.KindServer, apiErr.ErrorMessage(), err)
		case "TextSizeLimitExceededException", "UnsupportedLanguageException", "InvalidRequestException":
			return apperrors.NewClassified(apperrors.KindValidation, apiErr.ErrorMessage(), err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return apperrors.NewClassified(apperrors.KindServer, apiErr.ErrorMessage(), err)
		}
	}
	return err
}
