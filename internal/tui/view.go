package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guyghost/quantbt/internal/tui/components"
)

var (
	successColor = lipgloss.Color("#00FF87")
	errorColor   = lipgloss.Color("#FF5555")
	mutedColor   = lipgloss.Color("#6272A4")

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Bold(true)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(mutedColor).
			Bold(true).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#6272A4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var content string
	switch {
	case m.run == nil && m.running:
		content = boxStyle.Render("Running backtest...\n\n" + m.renderMessages(10))
	case m.run == nil || m.run.Result == nil:
		content = boxStyle.Render(mutedStyle.Render("No result to display"))
	default:
		switch m.activeView {
		case ViewSummary:
			content = m.renderSummary()
		case ViewTrades:
			content = components.RenderTrades(m.run.Result.Trades, m.tradeOffset, m.tradeRows())
		case ViewEquity:
			content = components.RenderEquityChart(m.run.Result.EquityCurve, max(10, m.width-10))
		}
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.renderTabs(),
		"",
		content,
		"",
		m.renderHelp(),
		m.renderStatusBar(),
	)
}

// renderHeader renders the application header
func (m Model) renderHeader() string {
	title := titleStyle.Render("⚡ BACKTEST " + m.title)

	status := successStyle.Render("DONE")
	if m.running {
		status = mutedStyle.Render("RUNNING")
	} else if m.lastError != nil {
		status = errorStyle.Render("FAILED")
	}

	var meta string
	if m.run != nil {
		meta = mutedStyle.Render(fmt.Sprintf("%s %s  %s → %s",
			m.run.Symbol, m.run.Timeframe,
			m.run.Start.Format("2006-01-02"), m.run.End.Format("2006-01-02")))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", status, "  ", meta)
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(viewNames))
	for i, name := range viewNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if View(i) == m.activeView {
			tabs[i] = activeTabStyle.Render(label)
		} else {
			tabs[i] = tabStyle.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderSummary() string {
	result := m.run.Result
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		components.RenderCapitalCard(result), "  ",
		components.RenderStatsCard(result), "  ",
		components.RenderOpenPosition(result.OpenPosition))

	if len(m.messages) == 0 {
		return top
	}
	return lipgloss.JoinVertical(lipgloss.Left, top, "", boxStyle.Render(m.renderMessages(5)))
}

func (m Model) renderMessages(count int) string {
	messages := m.GetRecentMessages(count)
	if len(messages) == 0 {
		return mutedStyle.Render("No events yet")
	}
	return strings.Join(messages, "\n")
}

// renderStatusBar renders the bottom status bar
func (m Model) renderStatusBar() string {
	timestamp := time.Now().Format("15:04:05")

	var errorText string
	if m.lastError != nil {
		errorText = " | " + errorStyle.Render("ERROR: "+m.lastError.Error())
	}

	var runID string
	if m.run != nil {
		runID = " | run " + m.run.ID
	}

	return statusBarStyle.Width(m.width).Render(timestamp + runID + errorText)
}

// renderHelp renders the help text
func (m Model) renderHelp() string {
	helps := []string{
		"[1-3/tab] Switch view",
		"[j/k] Scroll trades",
		"[c] Clear error",
		"[q] Quit",
	}
	return helpStyle.Render(strings.Join(helps, " • "))
}
