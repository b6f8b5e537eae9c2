package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"RebalanceSentinel/internal/model"
)

const timeLayout = "2006-01-02 15:04 MST"

// FormatRebalanceAlert is sent when a snapshot first crosses the drift threshold.
func FormatRebalanceAlert(snap *model.Snapshot) string {
	var b strings.Builder
	b.WriteString("⚖️ <b>Rebalance needed</b>\n\n")
	b.WriteString(fmt.Sprintf("Account: <code>%s</code>\n", shortAccount(snap.Account)))
	b.WriteString(fmt.Sprintf("Total value: $%s\n", snap.TotalValue().StringFixed(2)))
	if snap.Drift != nil {
		b.WriteString(fmt.Sprintf("Threshold: %s%% | Total drift: %s%%\n\n",
			snap.Drift.ThresholdPercent.StringFixed(2), snap.Drift.TotalDrift.StringFixed(2)))
		b.WriteString(formatDriftLines(snap.Drift))
	}
	if len(snap.Trades) > 0 {
		b.WriteString("\n")
		b.WriteString(formatTradeLines(snap.Trades))
	}
	if snap.PriceStatus == model.PriceFallback {
		b.WriteString("\n⚠️ Some prices come from the static fallback table.\n")
	}
	return b.String()
}

// FormatPricesUnavailable is sent when a cycle settles without any price.
func FormatPricesUnavailable(snap *model.Snapshot) string {
	return fmt.Sprintf("❌ <b>Prices unavailable</b>\n\nNo price source answered at %s. Portfolio values are shown as 0 until the next refresh.",
		snap.SettledAt.Format(timeLayout))
}

// FormatStatus summarizes the latest snapshot.
func FormatStatus(snap *model.Snapshot, now time.Time, staleAfter time.Duration) string {
	if snap == nil {
		return "⏳ No snapshot yet. Try /refresh."
	}
	var b strings.Builder
	b.WriteString("📊 <b>Portfolio status</b>\n\n")
	if snap.Account == "" {
		b.WriteString("No wallet connected, prices only.\n")
	} else {
		b.WriteString(fmt.Sprintf("Account: <code>%s</code>\n", shortAccount(snap.Account)))
		b.WriteString(fmt.Sprintf("Total value: $%s\n", snap.TotalValue().StringFixed(2)))
	}
	b.WriteString(fmt.Sprintf("Prices: %s", snap.PriceStatus))
	if snap.IsStale(now, staleAfter) {
		b.WriteString(" (stale)")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Updated: %s\n", snap.SettledAt.Format(timeLayout)))

	if len(snap.Valuation.Holdings) > 0 {
		b.WriteString("\n<b>Holdings</b>\n")
		for _, h := range snap.Valuation.Holdings {
			if !h.Priced {
				b.WriteString(fmt.Sprintf("  %s: %s (unpriced)\n", html.EscapeString(h.AssetCode), h.Amount.String()))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s: $%s (%s%%)\n",
				html.EscapeString(h.AssetCode), h.Value.StringFixed(2), h.CurrentPercent.StringFixed(1)))
		}
	}

	if snap.Drift != nil {
		b.WriteString(fmt.Sprintf("\n<b>Drift</b> (threshold %s%%, targets from %s)\n",
			snap.Drift.ThresholdPercent.StringFixed(2), snap.TargetOrigin))
		b.WriteString(formatDriftLines(snap.Drift))
		if snap.Drift.NeedsRebalance {
			b.WriteString("\n⚖️ Rebalance needed. See /trades.\n")
		} else {
			b.WriteString("\n✅ Within threshold.\n")
		}
	}
	return b.String()
}

// FormatPrices lists every quote with its source.
func FormatPrices(snap *model.Snapshot) string {
	if snap == nil || len(snap.Quotes) == 0 {
		return "❌ No prices available."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💱 <b>Prices</b> (%s)\n\n", snap.PriceStatus))
	for _, code := range snap.Quotes.Codes() {
		q := snap.Quotes[code]
		marker := ""
		if !q.Source.Live() {
			marker = " ⚠️"
		}
		b.WriteString(fmt.Sprintf("  %s: $%s [%s]%s\n",
			html.EscapeString(code), q.Price.String(), strings.ToLower(string(q.Source)), marker))
	}
	b.WriteString(fmt.Sprintf("\nAs of %s\n", snap.PricesAt.Format(timeLayout)))
	return b.String()
}

// FormatTrades lists the suggested rebalancing trades.
func FormatTrades(snap *model.Snapshot) string {
	if snap == nil || snap.Drift == nil {
		return "No targets to compare against."
	}
	if len(snap.Trades) == 0 {
		return "✅ Portfolio is on target, no trades suggested."
	}
	return "🔁 <b>Suggested trades</b>\n\n" + formatTradeLines(snap.Trades)
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Available commands:\n• /status\n• /prices\n• /trades\n• /refresh"
}

func formatDriftLines(report *model.DriftReport) string {
	var b strings.Builder
	for _, r := range report.Records {
		mark := ""
		if r.Drift.GreaterThan(report.ThresholdPercent) {
			mark = " ❗"
		}
		b.WriteString(fmt.Sprintf("  %s: %s%% → %s%% (drift %s%%)%s\n",
			html.EscapeString(r.AssetCode), r.CurrentPercent.StringFixed(1), r.TargetPercent.StringFixed(1),
			r.Drift.StringFixed(2), mark))
	}
	return b.String()
}

func formatTradeLines(trades []model.Trade) string {
	var b strings.Builder
	for _, t := range trades {
		b.WriteString(fmt.Sprintf("  %s %s $%s (%s%%)\n",
			strings.ToUpper(string(t.Action)), html.EscapeString(t.AssetCode), t.Amount.StringFixed(2), t.Percent.StringFixed(2)))
	}
	return b.String()
}

func shortAccount(account string) string {
	if len(account) <= 12 {
		return account
	}
	return account[:6] + "…" + account[len(account)-6:]
}
