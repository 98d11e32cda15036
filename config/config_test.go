package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, name := range []string{
		"PORT", "DATABASE_DRIVER", "DATABASE_URL", "EVOLUTION_API_URL", "N8N_API_URL",
		"PAIRING_INTERVAL", "PAIRING_TIMEOUT", "KAFKA_BROKERS", "QR_TERMINAL",
	} {
		t.Setenv(name, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "http://localhost:8080", cfg.EvolutionAPIURL)
	assert.Equal(t, "http://localhost:5678", cfg.N8nAPIURL)
	assert.Equal(t, 5*time.Second, cfg.PairingInterval)
	assert.Equal(t, 120*time.Second, cfg.PairingTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.QRTerminal)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("PAIRING_INTERVAL", "1s")
	t.Setenv("PAIRING_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("QR_TERMINAL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, time.Second, cfg.PairingInterval)
	assert.Equal(t, 30*time.Second, cfg.PairingTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.QRTerminal)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown driver", "DATABASE_DRIVER", "mysql"},
		{"bad duration", "HTTP_TIMEOUT", "soon"},
		{"negative duration", "PAIRING_INTERVAL", "-5s"},
		{"interval beyond timeout", "PAIRING_INTERVAL", "10m"},
		{"bad bool", "QR_TERMINAL", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
