// Package notify defines the outbound notification capability (spec
// §4.8) and its report payloads: a structured, human-readable summary
// of a reconciliation's outcome or failure.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/signal"
)

// Notifier sends a Report to an external channel. Notify must be
// best-effort: a delivery failure is logged by the implementation and
// reported back via the bool return, never returned as an error that
// could fail the calling signal (spec §4.8).
type Notifier interface {
	Notify(ctx context.Context, report Report) bool
}

// Report is the structured payload handed to a Notifier. Err is set
// for error reports (spec §7's propagation policy: the dispatcher
// worker builds one of these from any Process failure); all other
// fields describe a successful reconciliation.
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
	At           time.Time
}

// FromProcessReport builds a success Report from a processor's
// outcome fields, decoupling internal/process from internal/notify's
// Report shape (process.Report carries the same fields but also the
// Err field the processor itself doesn't set on the happy path).
func FromProcessReport(
	account string,
	sig signal.Signal,
	init, final *broker.Position,
	orders []broker.EnsureOrder,
	slippage map[string]broker.Slippage,
	pnl *decimal.Decimal,
	stops []broker.StopOrder,
) Report {
	return Report{
		Account:      account,
		Signal:       sig,
		Init:         init,
		Final:        final,
		Orders:       orders,
		Slippage:     slippage,
		RealizedPnL:  pnl,
		CurrentStops: stops,
	}
}

// ErrorReport builds a failure Report for the dispatcher's error path.
func ErrorReport(account string, sig signal.Signal, err error) Report {
	return Report{Account: account, Signal: sig, Err: err}
}
