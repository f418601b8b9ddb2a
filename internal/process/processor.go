// Package process orchestrates one signal end to end: resolve broker
// state, drive the reconciler, hydrate fills, compute slippage and
// realized profit, and notify the outcome.
package process

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/notify"
	"signaldispatcher/internal/reconcile"
	"signaldispatcher/internal/signal"
)

// Processor wires one account's broker.Adapter to the reconciler and
// notifier. One Processor is shared by every key of its account.
type Processor struct {
	Account  string
	Adapter  broker.Adapter
	Reconcil *reconcile.Reconciler
	Notifier notify.Notifier
}

// New builds a Processor over adapter, using a default Reconciler.
func New(account string, adapter broker.Adapter, notifier notify.Notifier) *Processor {
	return &Processor{
		Account:  account,
		Adapter:  adapter,
		Reconcil: reconcile.New(adapter),
		Notifier: notifier,
	}
}

// Report is the full outcome of one Process call, also the payload
// handed to Notifier.Notify.
type Report struct {
	Account      string
	Signal       signal.Signal
	Init         *broker.Position
	Final        *broker.Position
	Orders       []broker.EnsureOrder
	Slippage     map[string]broker.Slippage
	RealizedPnL  *decimal.Decimal
	CurrentStops []broker.StopOrder
	Err          error
}

// Process runs the full signal lifecycle (spec §4.4) and returns the
// report regardless of success; Report.Err is set on failure. The
// caller (the dispatcher) classifies and notifies on failure.
func (p *Processor) Process(ctx context.Context, sig signal.Signal) Report {
	logger := log.Ctx(ctx).With().
		Str("signal_id", sig.ID).
		Str("account", p.Account).
		Str("instrument", sig.Instrument.String()).
		Logger()

	report := Report{Account: p.Account, Signal: sig}

	info, err := p.Adapter.GetInstrumentInfo(ctx, sig.Instrument.String())
	if err != nil {
		report.Err = err
		return report
	}
	if info == nil {
		report.Err = broker.New(broker.ErrInstrumentNotFound, "instrument "+sig.Instrument.String()+" not found")
		return report
	}

	init, err := p.Adapter.GetPosition(ctx, info)
	if err != nil {
		report.Err = err
		return report
	}
	report.Init = init

	result, err := p.Reconcil.Ensure(ctx, reconcile.Input{
		Info:            info,
		Init:            init,
		Desired:         sig.Position,
		LeveragePercent: sig.CapitalLeveragePercent,
		ReserveCapital:  sig.ReserveCapital,
		StopPrice:       sig.StopPrice,
		TakePrice:       sig.LimitPrice,
	})
	if err != nil {
		report.Err = err
		return report
	}
	report.Final = result.Final

	orders, err := p.Adapter.PullEnsureOrdersResult(ctx, result.Orders, info)
	if err != nil {
		report.Err = err
		return report
	}
	report.Orders = orders

	report.Slippage = computeSlippage(sig, orders)
	report.RealizedPnL = realizedProfit(init, info.LotSize, orders)

	stops, err := p.Adapter.GetCurrentStopOrders(ctx, info)
	if err != nil {
		report.Err = err
		return report
	}
	report.CurrentStops = stops

	if len(orders) > 0 {
		logger.Info().Int("orders", len(orders)).Msg("reconciliation issued orders")
		if ok := p.Notifier.Notify(ctx, notify.FromProcessReport(
			p.Account, sig, report.Init, report.Final, report.Orders, report.Slippage, report.RealizedPnL, report.CurrentStops,
		)); !ok {
			logger.Warn().Msg("notification delivery failed")
		}
	} else {
		logger.Debug().Msg("reconciliation issued no orders")
	}

	return report
}
