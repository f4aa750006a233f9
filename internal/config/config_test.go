package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Provisioning.StoreMode)
	assert.Equal(t, "dev", cfg.Provisioning.Environment)
	assert.Equal(t, "dev-shared-rvc-platform-db", cfg.Provisioning.SharedInstanceName)
	assert.Equal(t, 4, cfg.Provisioning.Workers)
	assert.Equal(t, 100, cfg.Router.PageSize)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PROVISIONING_STORE_MODE", "memory")
	t.Setenv("PROVISIONING_WORKERS", "8")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("SERVER_READ_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Provisioning.StoreMode)
	assert.Equal(t, 8, cfg.Provisioning.Workers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_MemoryModeNeedsNoPassword(t *testing.T) {
	t.Setenv("PROVISIONING_STORE_MODE", "memory")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Provisioning: ProvisioningConfig{StoreMode: "memory", Workers: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "memory mode passes",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown store mode",
			mutate:  func(c *Config) { c.Provisioning.StoreMode = "dynamo" },
			wantErr: "PROVISIONING_STORE_MODE",
		},
		{
			name:    "postgres requires password",
			mutate:  func(c *Config) { c.Provisioning.StoreMode = "postgres" },
			wantErr: "DB_PASSWORD",
		},
		{
			name:    "workers must be positive",
			mutate:  func(c *Config) { c.Provisioning.Workers = 0 },
			wantErr: "PROVISIONING_WORKERS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
