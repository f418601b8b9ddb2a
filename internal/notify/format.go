package notify

import (
	"fmt"
	"strings"

	"signaldispatcher/internal/broker"
)

// FormatHTML renders a Report as the HTML body expected by the
// telegram channel's parse_mode:"HTML" (spec §6). Kept as a plain
// string builder, not a template, matching the small, ungeneralized
// shape of this one outbound message.
func FormatHTML(r Report) string {
	var b strings.Builder

	if r.Err != nil {
		fmt.Fprintf(&b, "<b>Signal failed</b>\n")
		fmt.Fprintf(&b, "Account: <code>%s</code>\n", escape(r.Account))
		fmt.Fprintf(&b, "Instrument: <code>%s</code>\n", escape(r.Signal.Instrument.String()))
		fmt.Fprintf(&b, "Error: <code>%s</code>\n", escape(r.Err.Error()))
		return b.String()
	}

	fmt.Fprintf(&b, "<b>Signal reconciled</b>\n")
	fmt.Fprintf(&b, "Account: <code>%s</code>\n", escape(r.Account))
	fmt.Fprintf(&b, "Instrument: <code>%s</code>\n", escape(r.Signal.Instrument.String()))
	fmt.Fprintf(&b, "Target: <code>%s</code>\n", escape(string(r.Signal.Position)))

	if r.Final != nil {
		fmt.Fprintf(&b, "Final position: <code>%d @ %s</code>\n", r.Final.Quantity, r.Final.AveragePrice.String())
	} else {
		fmt.Fprintf(&b, "Final position: <code>flat</code>\n")
	}

	if len(r.Orders) > 0 {
		b.WriteString("Orders:\n")
		for _, o := range r.Orders {
			fmt.Fprintf(&b, "  - <code>%s %d</code>", o.Type, o.Quantity)
			if o.Action != "" {
				fmt.Fprintf(&b, " (%s)", o.Action)
			}
			if o.Type == broker.OrderTypeStopLoss || o.Type == broker.OrderTypeTakeProfit {
				fmt.Fprintf(&b, " @ %s", o.Price.String())
			} else if o.Fill != nil {
				fmt.Fprintf(&b, " filled @ %s", o.Fill.Price.String())
			}
			b.WriteString("\n")
		}
	}

	if len(r.Slippage) > 0 {
		b.WriteString("Slippage:\n")
		for id, s := range r.Slippage {
			fmt.Fprintf(&b, "  - <code>%s</code>: price %s, time %s\n", escape(id), s.PriceSlippage.String(), s.TimeSlippage.String())
		}
	}

	if r.RealizedPnL != nil {
		fmt.Fprintf(&b, "Realized PnL: <code>%s</code>\n", r.RealizedPnL.String())
	}

	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
