package comprehend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

type fakeAPI struct {
	sentimentErrs []error
	sentimentHits int
	lang          types.LanguageCode
}

func (f *fakeAPI) DetectSentiment(_ context.Context, in *comprehend.DetectSentimentInput, _ ...func(*comprehend.Options)) (*comprehend.DetectSentimentOutput, error) {
	f.sentimentHits++
	f.lang = in.LanguageCode
	if len(f.sentimentErrs) > 0 {
		err := f.sentimentErrs[0]
		f.sentimentErrs = f.sentimentErrs[1:]
		return nil, err
	}
	return &comprehend.DetectSentimentOutput{
		Sentiment: types.SentimentTypeNegative,
		SentimentScore: &types.SentimentScore{
			Positive: aws.Float32(0.02),
			Neutral:  aws.Float32(0.10),
			Negative: aws.Float32(0.85),
			Mixed:    aws.Float32(0.03),
		},
	}, nil
}

func (f *fakeAPI) DetectKeyPhrases(_ context.Context, _ *comprehend.DetectKeyPhrasesInput, _ ...func(*comprehend.Options)) (*comprehend.DetectKeyPhrasesOutput, error) {
	return &comprehend.DetectKeyPhrasesOutput{KeyPhrases: []types.KeyPhrase{
		{Text: aws.String("mensagens"), Score: aws.Float32(0.99)},
		{Text: aws.String("proposta"), Score: aws.Float32(0.75)},
	}}, nil
}

func testCalls() *resilience.Client {
	return resilience.NewClient(resilience.Policy{Timeout: time.Second, MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil,
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func TestAnalyzeSentiment(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, testCalls())

	res, err := c.AnalyzeSentiment(context.Background(), "não tenho interesse", "pt-BR")

	require.NoError(t, err)
	assert.Equal(t, types.LanguageCodePt, api.lang)
	assert.Equal(t, domain.SentimentNegative, res.Category)
	assert.InDelta(t, 0.85, res.Negative, 0.0001)
}

func TestAnalyzeSentimentRetriesThrottling(t *testing.T) {
	api := &fakeAPI{sentimentErrs: []error{&smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}}
	c := NewWithAPI(api, testCalls())

	_, err := c.AnalyzeSentiment(context.Background(), "ok", "pt")
	require.NoError(t, err)
	assert.Equal(t, 2, api.sentimentHits)
}

func TestAnalyzeSentimentTextTooLargeIsValidation(t *testing.T) {
	api := &fakeAPI{sentimentErrs: []error{&smithy.GenericAPIError{Code: "TextSizeLimitExceededException", Fault: smithy.FaultClient}}}
	c := NewWithAPI(api, testCalls())

	_, err := c.AnalyzeSentiment(context.Background(), "ok", "pt")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 1, api.sentimentHits)
}

func TestUnsupportedLanguage(t *testing.T) {
	c := NewWithAPI(&fakeAPI{}, testCalls())

	_, err := c.AnalyzeSentiment(context.Background(), "ok", "tlh")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestExtractKeyPhrases(t *testing.T) {
	c := NewWithAPI(&fakeAPI{}, testCalls())

	phrases, err := c.ExtractKeyPhrases(context.Background(), "texto", "en")
	require.NoError(t, err)
	require.Len(t, phrases, 2)
	assert.Equal(t, "mensagens", phrases[0].Text)
}

func TestServerFaultsRetryOnlyUnderPolicyCeiling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"__type":"InternalServerException","Message":"overloaded"}`))
	}))
	defer srv.Close()

	awsCfg := aws.Config{
		Region:       "sa-east-1",
		BaseEndpoint: aws.String(srv.URL),
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	}
	c := NewWithConfig(awsCfg, testCalls())

	_, err := c.AnalyzeSentiment(context.Background(), "pode me ligar amanhã", "pt")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.EqualValues(t, 3, hits.Load())
}
