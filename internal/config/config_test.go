package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadRequiresModelCredential(t *testing.T) {
	clearEnv(t, "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CHECKPOINT_STORE_DSN", "BLOB_BUCKET")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadResolvesAnthropicProvider(t *testing.T) {
	clearEnv(t, "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CHECKPOINT_STORE_DSN", "BLOB_BUCKET")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	os.Setenv("CHECKPOINT_STORE_DSN", "memory://")
	os.Setenv("BLOB_BUCKET", "bucket")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.ModelProvider)
	assert.Equal(t, "memory://", cfg.CheckpointDSN)
}

func TestLoadCollectsDatasources(t *testing.T) {
	clearEnv(t, "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CHECKPOINT_STORE_DSN", "BLOB_BUCKET",
		"DATASOURCE_CRM_DSN", "DATASOURCE_CRM_TOKEN")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	os.Setenv("CHECKPOINT_STORE_DSN", "memory://")
	os.Setenv("BLOB_BUCKET", "bucket")
	os.Setenv("DATASOURCE_CRM_DSN", "postgres://localhost/crm")
	os.Setenv("DATASOURCE_CRM_TOKEN", "tok")

	cfg, err := Load()
	require.NoError(t, err)
	require.Contains(t, cfg.Datasources, "CRM")
	assert.Equal(t, "postgres://localhost/crm", cfg.Datasources["CRM"].DSN)
	assert.Equal(t, "tok", cfg.Datasources["CRM"].Token)
}
