// Package config loads the dispatcher's configuration from a YAML
// file, with secret fields overridable via SIGDISP_* environment
// variables, grounded on the polymarket-mm bot's POLY_* config
// pattern (internal/config/config.go).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"signaldispatcher/internal/broker"
)

// Config is the top-level configuration, mapping directly to the YAML
// file structure of spec §6.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Telegram  TelegramConfig           `mapstructure:"telegram"`
	PriceFeed PriceFeedConfig          `mapstructure:"price_feed"`
	Accounts  map[string]AccountConfig `mapstructure:"accounts"`
}

// PriceFeedConfig configures the optional streaming last-price cache
// that broker adapters consult before falling back to a REST quote
// call. Leaving URL empty disables it; GetLastPrice then always goes
// straight to REST.
type PriceFeedConfig struct {
	URL     string   `mapstructure:"url"`
	Symbols []string `mapstructure:"symbols"`
}

type ServerConfig struct {
	LogLevel string `mapstructure:"log_level"`
	Addr     string `mapstructure:"addr"`
	Workers  int    `mapstructure:"workers"`
	APIKey   string `mapstructure:"api_key"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type AccountConfig struct {
	Broker BrokerConfig `mapstructure:"broker"`
}

type BrokerConfig struct {
	Name   string                 `mapstructure:"name"`
	Config map[string]interface{} `mapstructure:"config"`
}

// FinamConfig is BrokerConfig.Config for broker.name == "finam".
type FinamConfig struct {
	Token     string `mapstructure:"token"`
	AccountID string `mapstructure:"account_id"`
}

// TInvestConfig is BrokerConfig.Config for broker.name == "tinvest".
type TInvestConfig struct {
	Token       string `mapstructure:"token"`
	AccountID   string `mapstructure:"account_id"`
	SandboxMode bool   `mapstructure:"sandbox_mode"`
}

// Load reads cfg from path with SIGDISP_* environment overrides for
// secret broker tokens and the telegram bot token (spec §6's broker
// config keys are per-account, so the override path is
// SIGDISP_ACCOUNTS_<NAME>_BROKER_CONFIG_TOKEN).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SIGDISP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, broker.Wrap(err, "read config file "+path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, broker.Wrap(err, "unmarshal config")
	}

	if token := os.Getenv("SIGDISP_TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	for name, acct := range cfg.Accounts {
		envKey := "SIGDISP_ACCOUNTS_" + strings.ToUpper(name) + "_BROKER_CONFIG_TOKEN"
		if token := os.Getenv(envKey); token != "" {
			if acct.Broker.Config == nil {
				acct.Broker.Config = map[string]interface{}{}
			}
			acct.Broker.Config["token"] = token
			cfg.Accounts[name] = acct
		}
	}

	if cfg.Server.Workers <= 0 {
		cfg.Server.Workers = 10
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields at startup, per spec §7's
// ConfigError category ("at startup only").
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return broker.New(broker.ErrConfigError, "at least one account must be configured")
	}
	for name, acct := range c.Accounts {
		switch acct.Broker.Name {
		case "finam", "tinvest":
		case "":
			return broker.New(broker.ErrConfigError, fmt.Sprintf("account %q: broker.name is required", name))
		default:
			return broker.New(broker.ErrConfigError, fmt.Sprintf("account %q: unrecognized broker %q", name, acct.Broker.Name))
		}
	}
	return nil
}
