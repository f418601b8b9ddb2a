package process

import (
	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
)

// realizedProfit implements spec §4.6: PnL realized from closing legs
// only, relative to init's average price. Returns nil when there was
// no prior position or no closing orders.
func realizedProfit(init *broker.Position, lotSize decimal.Decimal, orders []broker.EnsureOrder) *decimal.Decimal {
	if init == nil || init.Quantity == 0 {
		return nil
	}

	var closingAction broker.OrderAction
	var sign int64
	if init.Quantity > 0 {
		closingAction, sign = broker.ActionCloseLong, 1
	} else {
		closingAction, sign = broker.ActionCloseShort, -1
	}

	var pnl decimal.Decimal
	var found bool
	for _, o := range orders {
		if o.Action != closingAction || o.Fill == nil {
			continue
		}
		found = true
		delta := o.Fill.Price.Sub(init.AveragePrice)
		contribution := delta.Mul(decimal.NewFromInt(o.Quantity)).Mul(lotSize)
		if sign < 0 {
			contribution = contribution.Neg()
		}
		pnl = pnl.Add(contribution)
	}
	if !found {
		return nil
	}
	return &pnl
}
