package broker

import "github.com/shopspring/decimal"

// CalculatePositionSize implements the two-bound position sizing rule
// from spec §4.2:
//
//  1. cap = (balance + reserveCapital) * leveragePercent / 100
//  2. qtyByBalance  = floor(balance / marginPerLot)          (margin safety net)
//  3. qtyByLeverage = floor(cap / (lastPrice * lotSize))     (declared risk)
//  4. result = max(0, min(qtyByBalance, qtyByLeverage))
//
// maxLotsByMargin lets a broker-provided max-lots primitive stand in
// for the margin-based bound (Open Question (a) in spec §9): pass nil
// when the broker exposes no such primitive and marginPerLot will be
// used instead. If neither is available the balance bound is skipped
// and only the leverage bound applies.
func CalculatePositionSize(
	balance decimal.Decimal,
	lastPrice decimal.Decimal,
	lotSize decimal.Decimal,
	marginPerLot *decimal.Decimal,
	maxLotsByMargin *int64,
	leveragePercent decimal.Decimal,
	reserveCapital decimal.Decimal,
) int64 {
	cap := balance.Add(reserveCapital).Mul(leveragePercent).Div(decimal.NewFromInt(100))

	var qtyByBalance int64 = -1 // -1 means "no bound"
	switch {
	case maxLotsByMargin != nil:
		qtyByBalance = *maxLotsByMargin
	case marginPerLot != nil && marginPerLot.IsPositive():
		qtyByBalance = balance.Div(*marginPerLot).Floor().IntPart()
	}

	var qtyByLeverage int64
	denom := lastPrice.Mul(lotSize)
	if denom.IsPositive() {
		qtyByLeverage = cap.Div(denom).Floor().IntPart()
	}

	result := qtyByLeverage
	if qtyByBalance >= 0 && qtyByBalance < result {
		result = qtyByBalance
	}
	if result < 0 {
		result = 0
	}
	return result
}
