package components

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guyghost/quantbt/internal/backtesting"
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline compresses values into width columns of block characters.
// Each column shows the last value of its bucket.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if width > len(values) {
		width = len(values)
	}

	sampled := make([]float64, width)
	for col := 0; col < width; col++ {
		idx := (col+1)*len(values)/width - 1
		sampled[col] = values[idx]
	}

	lo, hi := sampled[0], sampled[0]
	for _, v := range sampled {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var b strings.Builder
	for _, v := range sampled {
		level := len(sparkLevels) - 1
		if hi > lo {
			level = int(math.Round((v - lo) / (hi - lo) * float64(len(sparkLevels)-1)))
		}
		b.WriteRune(sparkLevels[level])
	}
	return b.String()
}

// RenderEquityChart renders the equity curve as a sparkline with its range
func RenderEquityChart(curve []backtesting.EquityPoint, width int) string {
	var content strings.Builder

	content.WriteString("📉 Equity Curve\n\n")

	if len(curve) == 0 {
		mutedStyle := lipgloss.NewStyle().Foreground(mutedColor)
		return boxStyle.Render(content.String() + mutedStyle.Render("No equity points"))
	}

	values := make([]float64, len(curve))
	lo, hi := curve[0].Equity, curve[0].Equity
	for i, p := range curve {
		values[i] = p.Equity.InexactFloat64()
		if p.Equity.LessThan(lo) {
			lo = p.Equity
		}
		if p.Equity.GreaterThan(hi) {
			hi = p.Equity
		}
	}

	first, last := curve[0], curve[len(curve)-1]
	lineStyle := signStyle(last.Equity.Sub(first.Equity))

	content.WriteString(lineStyle.Render(Sparkline(values, width)) + "\n\n")
	content.WriteString(fmt.Sprintf("%s  $%s\n", first.Time.Format("2006-01-02"), first.Equity.StringFixed(2)))
	content.WriteString(fmt.Sprintf("%s  $%s\n", last.Time.Format("2006-01-02"), last.Equity.StringFixed(2)))
	content.WriteString(fmt.Sprintf("Low $%s  High $%s  Points %d\n", lo.StringFixed(2), hi.StringFixed(2), len(curve)))

	return boxStyle.Render(content.String())
}
