package backtesting

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	sectionStyle     = lipgloss.NewStyle().Bold(true)
	gainStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF87"))
	lossStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	noteStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

const (
	rule       = "───────────────────────────────────────────────────────\n"
	doubleRule = "═══════════════════════════════════════════════════════\n"
)

// Reporter generates reports from backtesting results
type Reporter struct{}

// NewReporter creates a new reporter
func NewReporter() *Reporter {
	return &Reporter{}
}

// GenerateReport generates a formatted text report
func (r *Reporter) GenerateReport(result *Result) string {
	var sb strings.Builder

	sb.WriteString(doubleRule)
	sb.WriteString(reportTitleStyle.Render("           BACKTESTING PERFORMANCE REPORT"))
	sb.WriteString("\n")
	sb.WriteString(doubleRule + "\n")

	// Overall Performance
	sb.WriteString(sectionStyle.Render("📊 OVERALL PERFORMANCE") + "\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Initial Capital:      $%s\n", result.InitialCapital.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Final Capital:        $%s\n", result.FinalCapital.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Total Return:         %s\n", signed(fmt.Sprintf("%.2f%%", result.TotalReturn.InexactFloat64()), result.TotalReturn.IsNegative())))
	sb.WriteString(fmt.Sprintf("Max Drawdown:         %.2f%%\n", result.MaxDrawdown.InexactFloat64()))
	sb.WriteString(fmt.Sprintf("Sharpe Ratio:         %.2f\n\n", result.SharpeRatio.InexactFloat64()))

	// Trade Statistics
	sb.WriteString(sectionStyle.Render("📈 TRADE STATISTICS") + "\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Total Trades:         %d\n", result.TotalTrades))
	sb.WriteString(fmt.Sprintf("Winning Trades:       %d\n", result.WinningTrades))
	sb.WriteString(fmt.Sprintf("Losing Trades:        %d\n", result.LosingTrades))
	sb.WriteString(fmt.Sprintf("Win Rate:             %.2f%%\n", result.WinRate.InexactFloat64()))
	sb.WriteString(fmt.Sprintf("Avg Trade Return:     %.2f%%\n", result.AvgTradeReturn.InexactFloat64()))
	if d := avgHolding(result.Trades); d > 0 {
		sb.WriteString(fmt.Sprintf("Avg Holding Time:     %s\n", formatDuration(d)))
	}
	sb.WriteString("\n")

	// Profit/Loss Analysis
	sb.WriteString(sectionStyle.Render("💰 PROFIT/LOSS ANALYSIS") + "\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Profit Factor:        %.2f\n", result.ProfitFactor.InexactFloat64()))
	sb.WriteString(fmt.Sprintf("Avg Win:              $%s\n", result.Metrics.AvgWin.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Avg Loss:             $%s\n", result.Metrics.AvgLoss.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Largest Win:          $%s\n", result.Metrics.LargestWin.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Largest Loss:         $%s\n\n", result.Metrics.LargestLoss.StringFixed(2)))

	if pos := result.OpenPosition; pos != nil {
		sb.WriteString(sectionStyle.Render("⏳ OPEN POSITION") + "\n")
		sb.WriteString(rule)
		sb.WriteString(fmt.Sprintf("%s %s @ $%s since %s\n",
			pos.Side, pos.Quantity.String(), pos.EntryPrice.StringFixed(2), pos.EntryTime.Format("2006-01-02 15:04")))
		sb.WriteString(noteStyle.Render("Marked to market in the final capital, not counted as a trade.") + "\n\n")
	}

	// Recent Trades
	if len(result.Trades) > 0 {
		sb.WriteString(sectionStyle.Render("📋 RECENT TRADES (Last 10)") + "\n")
		sb.WriteString(rule)

		start := len(result.Trades) - 10
		if start < 0 {
			start = 0
		}

		for i := start; i < len(result.Trades); i++ {
			trade := result.Trades[i]
			symbol := "📈"
			if !trade.IsWin() {
				symbol = "📉"
			}
			pnl := signed(fmt.Sprintf("$%s (%.2f%%)", trade.PnL.StringFixed(2), trade.PnLPercent.InexactFloat64()), !trade.IsWin())
			sb.WriteString(fmt.Sprintf("%s %s %s: Entry=$%s Exit=$%s PnL=%s %s\n",
				symbol,
				trade.EntryTime.Format("2006-01-02 15:04"),
				trade.Side,
				trade.EntryPrice.StringFixed(2),
				trade.ExitPrice.StringFixed(2),
				pnl,
				trade.ExitReason,
			))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(doubleRule)

	return sb.String()
}

// GenerateSummary generates a short summary
func (r *Reporter) GenerateSummary(result *Result) string {
	return fmt.Sprintf(
		"Return: %.2f%% | Trades: %d | Win Rate: %.2f%% | Max DD: %.2f%% | Profit Factor: %.2f | Sharpe: %.2f",
		result.TotalReturn.InexactFloat64(),
		result.TotalTrades,
		result.WinRate.InexactFloat64(),
		result.MaxDrawdown.InexactFloat64(),
		result.ProfitFactor.InexactFloat64(),
		result.SharpeRatio.InexactFloat64(),
	)
}

// GenerateTradeLog generates a detailed trade log
func (r *Reporter) GenerateTradeLog(result *Result) string {
	var sb strings.Builder

	sb.WriteString(doubleRule)
	sb.WriteString(reportTitleStyle.Render("                      TRADE LOG"))
	sb.WriteString("\n")
	sb.WriteString(doubleRule + "\n")

	for i, trade := range result.Trades {
		sb.WriteString(fmt.Sprintf("Trade #%d  %s\n", i+1, noteStyle.Render(trade.ID)))
		sb.WriteString(rule)
		sb.WriteString(fmt.Sprintf("Side:            %s\n", trade.Side))
		sb.WriteString(fmt.Sprintf("Entry Time:      %s\n", trade.EntryTime.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("Exit Time:       %s\n", trade.ExitTime.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("Duration:        %s\n", formatDuration(trade.ExitTime.Sub(trade.EntryTime))))
		sb.WriteString(fmt.Sprintf("Entry Price:     $%s\n", trade.EntryPrice.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("Exit Price:      $%s\n", trade.ExitPrice.StringFixed(2)))
		sb.WriteString(fmt.Sprintf("Quantity:        %s\n", trade.Quantity.String()))
		sb.WriteString(fmt.Sprintf("Exit Reason:     %s\n", trade.ExitReason))

		pnlStatus := "PROFIT ✓"
		if !trade.IsWin() {
			pnlStatus = "LOSS ✗"
		}
		sb.WriteString(fmt.Sprintf("P&L:             %s\n",
			signed(fmt.Sprintf("$%s (%.2f%%) [%s]", trade.PnL.StringFixed(2), trade.PnLPercent.InexactFloat64(), pnlStatus), !trade.IsWin())))
		sb.WriteString("\n")
	}

	sb.WriteString(doubleRule)

	return sb.String()
}

func signed(s string, negative bool) string {
	if negative {
		return lossStyle.Render(s)
	}
	return gainStyle.Render(s)
}

func avgHolding(trades []Trade) time.Duration {
	if len(trades) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range trades {
		total += t.ExitTime.Sub(t.EntryTime)
	}
	return total / time.Duration(len(trades))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
