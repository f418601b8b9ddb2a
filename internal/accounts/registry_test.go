package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaldispatcher/internal/config"
	"signaldispatcher/internal/notify"

	"github.com/rs/zerolog"
)

func TestBuild_ConstructsOneAccountPerConfigEntry(t *testing.T) {
	cfg := &config.Config{
		Accounts: map[string]config.AccountConfig{
			"main": {Broker: config.BrokerConfig{Name: "finam", Config: map[string]interface{}{
				"token": "tok", "account_id": "ACC1",
			}}},
			"sandbox": {Broker: config.BrokerConfig{Name: "tinvest", Config: map[string]interface{}{
				"token": "tok2", "account_id": "ACC2", "sandbox_mode": true,
			}}},
		},
	}

	registry, err := Build(cfg, notify.NewLogNotifier(zerolog.Nop()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "sandbox"}, registry.Names())

	proc, ok := registry.Get("main")
	require.True(t, ok)
	assert.Equal(t, "main", proc.Account)
}

func TestBuild_UnknownAccountNotFound(t *testing.T) {
	cfg := &config.Config{
		Accounts: map[string]config.AccountConfig{
			"main": {Broker: config.BrokerConfig{Name: "finam", Config: map[string]interface{}{
				"token": "tok", "account_id": "ACC1",
			}}},
		},
	}

	registry, err := Build(cfg, notify.NewLogNotifier(zerolog.Nop()))
	require.NoError(t, err)

	_, ok := registry.Get("nonexistent")
	assert.False(t, ok)
}

func TestBuild_RejectsMissingBrokerCredentials(t *testing.T) {
	cfg := &config.Config{
		Accounts: map[string]config.AccountConfig{
			"main": {Broker: config.BrokerConfig{Name: "finam", Config: map[string]interface{}{}}},
		},
	}

	_, err := Build(cfg, notify.NewLogNotifier(zerolog.Nop()))
	require.Error(t, err)
}
