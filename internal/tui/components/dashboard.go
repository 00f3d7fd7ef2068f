package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/shopspring/decimal"
)

var (
	successColor = lipgloss.Color("#00FF87")
	errorColor   = lipgloss.Color("#FF5555")
	warningColor = lipgloss.Color("#FFB86C")
	mutedColor   = lipgloss.Color("#6272A4")

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)
)

func signStyle(v decimal.Decimal) lipgloss.Style {
	if v.IsNegative() {
		return lipgloss.NewStyle().Foreground(errorColor)
	}
	return lipgloss.NewStyle().Foreground(successColor)
}

// RenderCapitalCard renders starting and ending capital with the total return
func RenderCapitalCard(result *backtesting.Result) string {
	var content strings.Builder

	content.WriteString("💰 Capital\n\n")

	if result == nil {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		return boxStyle.Render(content.String() + mutedStyle.Render("No result"))
	}

	finalStyle := signStyle(result.FinalCapital.Sub(result.InitialCapital)).Bold(true)
	content.WriteString(fmt.Sprintf("Initial:  $%s\n", result.InitialCapital.StringFixed(2)))
	content.WriteString(fmt.Sprintf("Final:    %s\n", finalStyle.Render("$"+result.FinalCapital.StringFixed(2))))
	content.WriteString(fmt.Sprintf("Return:   %s\n", signStyle(result.TotalReturn).Render(result.TotalReturn.StringFixed(2)+"%")))

	drawdownStyle := lipgloss.NewStyle().Foreground(warningColor)
	if result.MaxDrawdown.GreaterThan(decimal.NewFromInt(20)) {
		drawdownStyle = lipgloss.NewStyle().Foreground(errorColor)
	}
	content.WriteString(fmt.Sprintf("Max DD:   %s\n", drawdownStyle.Render(result.MaxDrawdown.StringFixed(2)+"%")))

	return boxStyle.Render(content.String())
}

// RenderStatsCard renders trade statistics
func RenderStatsCard(result *backtesting.Result) string {
	var content strings.Builder

	content.WriteString("📊 Trade Stats\n\n")

	if result == nil || result.TotalTrades == 0 {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		return boxStyle.Render(content.String() + mutedStyle.Render("No closed trades"))
	}

	winRateStyle := lipgloss.NewStyle().Foreground(successColor)
	if result.WinRate.LessThan(decimal.NewFromInt(50)) {
		winRateStyle = lipgloss.NewStyle().Foreground(warningColor)
	}

	content.WriteString(fmt.Sprintf("Trades:        %d (%d W / %d L)\n", result.TotalTrades, result.WinningTrades, result.LosingTrades))
	content.WriteString(fmt.Sprintf("Win Rate:      %s\n", winRateStyle.Render(result.WinRate.StringFixed(2)+"%")))
	content.WriteString(fmt.Sprintf("Profit Factor: %s\n", result.ProfitFactor.StringFixed(2)))
	content.WriteString(fmt.Sprintf("Sharpe:        %s\n", result.SharpeRatio.StringFixed(2)))
	content.WriteString(fmt.Sprintf("Avg Trade:     %s\n", signStyle(result.AvgTradeReturn).Render(result.AvgTradeReturn.StringFixed(2)+"%")))
	content.WriteString(fmt.Sprintf("Largest Win:   %s\n", signStyle(result.Metrics.LargestWin).Render("$"+result.Metrics.LargestWin.StringFixed(2))))
	content.WriteString(fmt.Sprintf("Largest Loss:  %s\n", signStyle(result.Metrics.LargestLoss).Render("$"+result.Metrics.LargestLoss.StringFixed(2))))

	return boxStyle.Render(content.String())
}

// RenderOpenPosition renders the position still open at the last bar
func RenderOpenPosition(pos *backtesting.Position) string {
	var content strings.Builder

	content.WriteString("📈 Open Position\n\n")

	if pos == nil {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		return boxStyle.Render(content.String() + mutedStyle.Render("Flat at end of data"))
	}

	content.WriteString(fmt.Sprintf("Side:      %s\n", sideLabel(string(pos.Side))))
	content.WriteString(fmt.Sprintf("Entry:     $%s\n", pos.EntryPrice.StringFixed(2)))
	content.WriteString(fmt.Sprintf("Quantity:  %s\n", pos.Quantity.String()))
	content.WriteString(fmt.Sprintf("Since:     %s\n", pos.EntryTime.Format("2006-01-02 15:04")))

	return boxStyle.Render(content.String())
}

func sideLabel(side string) string {
	if side == "short" {
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render("SHORT")
	}
	return lipgloss.NewStyle().Foreground(successColor).Bold(true).Render("LONG")
}
