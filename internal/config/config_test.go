package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CPMS_HEARTBEAT_INTERVAL", "not-a-duration")
	t.Setenv("CPMS_DEMO_ACCOUNTS", " demo-1, ,demo-2 ")
	t.Setenv("CPMS_REQUIRE_STATION_AUTH", "true")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, []string{"demo-1", "demo-2"}, cfg.DemoAccounts)
	assert.True(t, cfg.RequireStationAuth)
	assert.True(t, cfg.InvestorPercent.Equal(decimal.MustNew("70")))
	assert.Empty(t, cfg.KafkaBrokers)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 0 }},
		{name: "negative liveness", mutate: func(c *Config) { c.LivenessInterval = -time.Second }},
		{name: "investor above 100", mutate: func(c *Config) { c.InvestorPercent = decimal.MustNew("100.5") }},
		{name: "investor negative", mutate: func(c *Config) { c.InvestorPercent = decimal.MustNew("-1") }},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }},
		{name: "zero acceleration", mutate: func(c *Config) { c.SimulatorAccel = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
