// Package credentials fetches provider secrets from a secret store and keeps them
// in a short-lived in-process cache. Secret values are never logged.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

// Source resolves a secret by name.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// StaticSource serves secrets from configuration, falling back to environment
// variables named OUTREACH_SECRET_<NAME> with non-alphanumerics turned into '_'.
type StaticSource struct {
	values map[string]string
	getenv func(string) string
}

// NewStaticSource constructs a StaticSource.
func NewStaticSource(values map[string]string) *StaticSource {
	return &StaticSource{values: values, getenv: os.Getenv}
}

// Fetch implements Source.
func (s *StaticSource) Fetch(_ context.Context, name string) (string, error) {
	if v, ok := s.values[name]; ok && v != "" {
		return v, nil
	}
	if v := s.getenv(EnvName(name)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q: %w", name, apperrors.ErrNotFound)
}

// EnvName maps a secret name onto its environment variable.
func EnvName(name string) string {
	var b strings.Builder
	b.WriteString("OUTREACH_SECRET_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads secrets from AWS Secrets Manager.
type SecretsManagerSource struct {
	client secretsManagerAPI
}

// NewSecretsManagerSource loads the default AWS configuration for region.
func NewSecretsManagerSource(ctx context.Context, region string) (*SecretsManagerSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("credentials: load aws config: %w", err)
	}
	return &SecretsManagerSource{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// Fetch implements Source.
func (s *SecretsManagerSource) Fetch(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("secretsmanager get %q: %w", name, err)
	}
	if out.SecretString != nil {
		return aws.ToString(out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("secret %q is empty: %w", name, apperrors.ErrNotFound)
}
