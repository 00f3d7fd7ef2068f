package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guyghost/quantbt/internal/backtesting"
)

// RenderTrades renders up to limit trades starting at offset
func RenderTrades(trades []backtesting.Trade, offset, limit int) string {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("📋 Trades (%d)\n\n", len(trades)))

	if len(trades) == 0 {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		return boxStyle.Render(content.String() + mutedStyle.Render("No closed trades"))
	}

	offset = max(0, min(offset, len(trades)-1))
	end := len(trades)
	if limit > 0 {
		end = min(end, offset+limit)
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	content.WriteString(headerStyle.Render(
		fmt.Sprintf("%-4s %-6s %-17s %-12s %-12s %-12s %-12s", "#", "Side", "Exit", "Entry", "Exit Price", "PnL", "Reason")))
	content.WriteString("\n" + strings.Repeat("─", 90) + "\n")

	for i := offset; i < end; i++ {
		tr := trades[i]
		pnlStyle := signStyle(tr.PnL)
		content.WriteString(fmt.Sprintf("%-4d %-6s %-17s %-12s %-12s %s %s\n",
			i+1,
			strings.ToUpper(string(tr.Side)),
			tr.ExitTime.Format("2006-01-02 15:04"),
			"$"+tr.EntryPrice.StringFixed(2),
			"$"+tr.ExitPrice.StringFixed(2),
			pnlStyle.Render(fmt.Sprintf("%-12s", "$"+tr.PnL.StringFixed(2))),
			tr.ExitReason))
	}

	if end < len(trades) || offset > 0 {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		content.WriteString(mutedStyle.Render(fmt.Sprintf("\nShowing %d-%d of %d", offset+1, end, len(trades))))
	}

	return boxStyle.Render(content.String())
}
