package signal

import (
	"fmt"

	"signaldispatcher/internal/broker"
)

// FieldError is one validation failure, shaped to match the HTTP
// boundary's 422 response (spec §6: {error, details: [{path, message}]}).
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError collects every FieldError found for one signal.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("signal validation failed: %d error(s)", len(e.Details))
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Details = append(e.Details, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks field-level constraints: a non-empty ticker, the
// position enum, and that every decimal field is non-negative. The
// ticker and position checks repeat what gin's binding tags enforce at
// bind time, so they also hold for a signal decoded without gin. No
// cross-field checks are made.
func (s *Signal) Validate() error {
	ve := &ValidationError{}

	if s.Instrument.Ticker == "" {
		ve.add("instrument", "ticker must not be empty")
	}

	switch s.Position {
	case broker.PositionLong, broker.PositionShort, broker.PositionFlat:
	default:
		ve.add("position", "must be one of long, short, flat")
	}

	if s.StopPrice != nil && s.StopPrice.IsNegative() {
		ve.add("stop_price", "must not be negative")
	}
	if s.LimitPrice != nil && s.LimitPrice.IsNegative() {
		ve.add("limit_price", "must not be negative")
	}
	if s.EntryPrice != nil && s.EntryPrice.IsNegative() {
		ve.add("entry_price", "must not be negative")
	}
	if s.ReserveCapital.IsNegative() {
		ve.add("reserve_capital", "must not be negative")
	}
	if s.CapitalLeveragePercent.IsNegative() {
		ve.add("capital_leverage_percent", "must not be negative")
	}

	if len(ve.Details) == 0 {
		return nil
	}
	return ve
}
