package payment

import (
	"fmt"

	"membership-payments/internal/config"
	"membership-payments/internal/domain/ports/adapter"
)

// NewGateways builds the adapters enabled in cfg for the configured environment.
// The noop gateway is added in dev mode.
func NewGateways(cfg config.PaymentConfig, dev bool, opts Options) (adapter.Gateways, error) {
	if cfg.CallTimeout > 0 {
		opts.CallTimeout = cfg.CallTimeout
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBase > 0 {
		opts.RetryBase = cfg.RetryBase
	}

	gws := adapter.Gateways{}
	if cfg.MobileMoneyA.Enabled {
		g, err := NewMobileMoneyA(cfg.MobileMoneyA, cfg.BaseURL(cfg.MobileMoneyA.Endpoints), cfg.ReturnURL, opts)
		if err != nil {
			return nil, err
		}
		gws[g.Name()] = g
	}
	if cfg.MobileMoneyB.Enabled {
		g, err := NewMobileMoneyB(cfg.MobileMoneyB, cfg.BaseURL(cfg.MobileMoneyB.Endpoints), cfg.ReturnURL, opts)
		if err != nil {
			return nil, err
		}
		gws[g.Name()] = g
	}
	if cfg.CardAggregator.Enabled {
		g, err := NewCardAggregator(cfg.CardAggregator, cfg.BaseURL(cfg.CardAggregator.Endpoints), cfg.ReturnURL, opts)
		if err != nil {
			return nil, err
		}
		gws[g.Name()] = g
	}
	if dev {
		n := NewNoopGateway()
		gws[n.Name()] = n
	}
	if len(gws) == 0 {
		return nil, fmt.Errorf("no payment gateway enabled")
	}
	return gws, nil
}
