package process

import (
	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/signal"
)

// computeSlippage implements spec §4.5. It runs only when the signal
// advertised an entry price or entry time; otherwise it returns nil.
// Computed per order_id, decimal throughout — never through a binary
// float.
func computeSlippage(sig signal.Signal, orders []broker.EnsureOrder) map[string]broker.Slippage {
	if sig.EntryPrice == nil && sig.EntryTime == nil {
		return nil
	}

	out := make(map[string]broker.Slippage)
	for _, o := range orders {
		if o.Type != broker.OrderTypeBuy && o.Type != broker.OrderTypeSell {
			continue
		}
		if o.Fill == nil {
			continue
		}

		var s broker.Slippage
		if sig.EntryPrice != nil {
			switch o.Action {
			case broker.ActionOpenLong, broker.ActionCloseShort:
				s.PriceSlippage = o.Fill.Price.Sub(*sig.EntryPrice)
			case broker.ActionOpenShort, broker.ActionCloseLong:
				s.PriceSlippage = sig.EntryPrice.Sub(o.Fill.Price)
			default:
				s.PriceSlippage = decimal.Zero
			}
		}
		if sig.EntryTime != nil {
			s.TimeSlippage = o.Fill.Date.Sub(sig.EntryTime.Time)
		}
		out[o.OrderID] = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
