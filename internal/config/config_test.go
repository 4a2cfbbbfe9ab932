package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: outreach-test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "outreach-test", cfg.App.Name)
	assert.Equal(t, 30*time.Second, cfg.Resilience.Timeout)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Resilience.MaxDelay)
	assert.Equal(t, "America/Sao_Paulo", cfg.Dispatch.TimeZone)
	assert.Equal(t, 50, cfg.Dispatch.MaxLeadsPerRun)
	assert.Equal(t, []WindowConfig{{Period: time.Hour, Ceiling: 100}, {Period: 24 * time.Hour, Ceiling: 500}}, cfg.Dispatch.TenantLimits)
	assert.Len(t, cfg.Channel.WhatsApp.Limits, 3)
	assert.Equal(t, 80, cfg.Channel.WhatsApp.Limits[0].Ceiling)
	assert.Equal(t, 3, cfg.Negotiation.MaxProposedSlots)
	assert.Equal(t, "agendamento.confirmed", cfg.Kafka.Events.ScheduleConfirmed)
	assert.Equal(t, "disparo.sent", cfg.Kafka.Events.DispatchSent)
	require.Len(t, cfg.Kafka.Retry.Stages, 3)
	assert.Equal(t, 30*time.Second, cfg.Kafka.Retry.Stages[0].Delay)
	assert.Equal(t, "outreach.trigger.dead_letter", cfg.Kafka.Retry.DeadLetterTopic)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
resilience:
  timeout: 5s
  max_attempts: 5
dispatch:
  max_leads_per_run: 20
  tenant_limits:
    - period: 1h
      ceiling: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Resilience.Timeout)
	assert.Equal(t, 5, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 20, cfg.Dispatch.MaxLeadsPerRun)
	assert.Equal(t, []WindowConfig{{Period: time.Hour, Ceiling: 10}}, cfg.Dispatch.TenantLimits)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
