package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

// Render turns a gated candidate into the notification text per trigger kind.
func Render(c market.CandidateAlert) Notification {
	name := c.Label
	if name == "" {
		name = c.EntityID
	}

	var title, detail string
	switch c.Kind {
	case market.KindRetrace:
		title = fmt.Sprintf("[Retrace] %s", name)
		detail = fmt.Sprintf("Down %s%% from the 72h high (threshold %s%%)",
			c.Magnitude.StringFixed(1), c.Threshold.StringFixed(1))
	case market.KindStall:
		title = fmt.Sprintf("[Stall] %s", name)
		detail = fmt.Sprintf("Volume contracted %s%% with price holding a tight band (threshold %s%%)",
			c.Magnitude.StringFixed(1), c.Threshold.StringFixed(1))
	case market.KindBreakout:
		title = fmt.Sprintf("[Breakout] %s", name)
		detail = fmt.Sprintf("Up %s%% past the 12h high on elevated volume (threshold %s%%)",
			c.Magnitude.StringFixed(1), c.Threshold.StringFixed(1))
	case market.KindMilestone:
		title = fmt.Sprintf("[Market Cap] %s", name)
		detail = fmt.Sprintf("Crossed the %s market-cap level", formatCap(c.Threshold))
	case market.KindHotPct:
		direction := "Gained"
		if c.Threshold.IsNegative() {
			direction = "Lost"
		}
		title = fmt.Sprintf("[Target Hit] %s", name)
		detail = fmt.Sprintf("%s %s%% from entry (target %s%%)",
			direction, c.Magnitude.Abs().StringFixed(1), c.Threshold.StringFixed(1))
	case market.KindHotMarketCap:
		title = fmt.Sprintf("[Target Hit] %s", name)
		detail = fmt.Sprintf("Market cap reached %s", formatCap(c.Threshold))
	case market.KindHotFailsafe:
		title = fmt.Sprintf("[Failsafe] %s", name)
		detail = fmt.Sprintf("Down %s%% from entry, drawdown failsafe triggered", c.Magnitude.StringFixed(1))
	default:
		title = fmt.Sprintf("[Alert] %s", name)
		detail = string(c.Kind)
	}

	builder := strings.Builder{}
	builder.WriteString(detail)
	builder.WriteString(fmt.Sprintf("\nPrice: %s", c.Price.String()))
	if c.MarketCap != nil {
		builder.WriteString(fmt.Sprintf("\nMarket cap: %s", formatCap(*c.MarketCap)))
	}
	builder.WriteString(fmt.Sprintf("\nVolume 24h: %s", c.Volume.StringFixed(0)))
	builder.WriteString(fmt.Sprintf("\nTime: %s UTC", c.At.UTC().Format(time.RFC3339)))

	return Notification{
		EntityID:  c.EntityID,
		EntryID:   c.EntryID,
		Kind:      c.Kind,
		Title:     title,
		Body:      builder.String(),
		Price:     c.Price,
		MarketCap: c.MarketCap,
		Volume:    c.Volume,
		At:        c.At,
	}
}

var (
	billion  = decimal.NewFromInt(1_000_000_000)
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

func formatCap(v decimal.Decimal) string {
	switch {
	case v.GreaterThanOrEqual(billion):
		return "$" + v.Div(billion).StringFixed(2) + "B"
	case v.GreaterThanOrEqual(million):
		return "$" + v.Div(million).StringFixed(2) + "M"
	case v.GreaterThanOrEqual(thousand):
		return "$" + v.Div(thousand).StringFixed(1) + "K"
	default:
		return "$" + v.StringFixed(0)
	}
}
