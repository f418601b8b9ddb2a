// Package accounts builds one broker.Adapter and process.Processor per
// configured account at startup, grounded on the teacher's
// cmd/server/managers.go wiring pattern (construct-once, share across
// request handlers) generalized from Binance's single account to an
// arbitrary named set of broker accounts.
package accounts

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/brokers/finam"
	"signaldispatcher/internal/brokers/tinvest"
	"signaldispatcher/internal/config"
	"signaldispatcher/internal/notify"
	"signaldispatcher/internal/pricefeed"
	"signaldispatcher/internal/process"
)

// Account bundles one configured broker account's adapter and
// processor — the two things the rest of the service needs per account.
type Account struct {
	Name      string
	Adapter   broker.Adapter
	Processor *process.Processor
}

// Registry resolves account names to their constructed Account.
type Registry struct {
	accounts  map[string]*Account
	priceFeed *pricefeed.Cache
}

// Build constructs one Adapter (and wrapping Processor) per entry in
// cfg.Accounts, failing fast if any broker name is unrecognized or its
// config block doesn't decode — mirroring the teacher's pattern of
// constructing every adapter eagerly at startup rather than lazily.
// When cfg.PriceFeed.URL is set, every finam/tinvest adapter is given
// a shared streaming price-feed cache to consult ahead of its REST
// quote call.
func Build(cfg *config.Config, notifier notify.Notifier) (*Registry, error) {
	r := &Registry{accounts: make(map[string]*Account, len(cfg.Accounts))}

	if cfg.PriceFeed.URL != "" {
		feed := pricefeed.NewCache(cfg.PriceFeed.URL, cfg.PriceFeed.Symbols, log.Logger)
		if err := feed.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("accounts: starting price feed: %w", err)
		}
		r.priceFeed = feed
		log.Info().Str("url", cfg.PriceFeed.URL).Strs("symbols", cfg.PriceFeed.Symbols).Msg("price feed started")
	}

	for name, accountCfg := range cfg.Accounts {
		adapter, err := buildAdapter(accountCfg.Broker, r.priceFeed)
		if err != nil {
			return nil, fmt.Errorf("accounts: building %q: %w", name, err)
		}

		r.accounts[name] = &Account{
			Name:      name,
			Adapter:   adapter,
			Processor: process.New(name, adapter, notifier),
		}
		log.Info().Str("account", name).Str("broker", accountCfg.Broker.Name).Msg("account registered")
	}

	return r, nil
}

func buildAdapter(brokerCfg config.BrokerConfig, feed *pricefeed.Cache) (broker.Adapter, error) {
	switch brokerCfg.Name {
	case "finam":
		var cfg finam.Config
		if err := mapstructure.Decode(brokerCfg.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode finam config: %w", err)
		}
		if feed != nil {
			return finam.New(cfg, finam.WithPriceFeed(feed))
		}
		return finam.New(cfg)
	case "tinvest":
		var cfg tinvest.Config
		if err := mapstructure.Decode(brokerCfg.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode tinvest config: %w", err)
		}
		if feed != nil {
			return tinvest.New(cfg, tinvest.WithPriceFeed(feed))
		}
		return tinvest.New(cfg)
	default:
		return nil, broker.New(broker.ErrConfigError, "unknown broker: "+brokerCfg.Name)
	}
}

// Close tears down the shared price feed, if one was started.
func (r *Registry) Close() error {
	if r.priceFeed == nil {
		return nil
	}
	return r.priceFeed.Close()
}

// NewWithAccounts builds a Registry directly from pre-built accounts,
// bypassing broker construction — used by tests that need to inject a
// fake broker.Adapter rather than talk to finam/tinvest.
func NewWithAccounts(accs map[string]*Account) *Registry {
	return &Registry{accounts: accs}
}

// Get returns the named account's Processor, for use as a
// dispatch.ProcessorFor implementation.
func (r *Registry) Get(name string) (*process.Processor, bool) {
	a, ok := r.accounts[name]
	if !ok {
		return nil, false
	}
	return a.Processor, true
}

// Names returns every configured account name, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	return names
}

// CheckReady probes every account's adapter with a cheap balance query,
// returning the set of accounts that failed — used by GET /readyz.
func (r *Registry) CheckReady(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, a := range r.accounts {
		if _, err := a.Adapter.GetMoneyBalance(ctx, ""); err != nil {
			failures[name] = err
		}
	}
	return failures
}
