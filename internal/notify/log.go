package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier logs reports instead of delivering them, adapted from
// the teacher's LogEventEmitter. Used as the configured fallback when
// no telegram channel is set, and in tests.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, report Report) bool {
	ev := n.logger.Info()
	if report.Err != nil {
		ev = n.logger.Error().Err(report.Err)
	}
	ev.Str("account", report.Account).
		Str("signal_id", report.Signal.ID).
		Str("instrument", report.Signal.Instrument.String()).
		Int("orders", len(report.Orders)).
		Msg("signal report")
	return true
}
