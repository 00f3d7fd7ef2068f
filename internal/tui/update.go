package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guyghost/quantbt/internal/service"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.UpdateDimensions(msg.Width, msg.Height)
		return m, nil

	case EventMsg:
		m.AddMessage(describeEvent(service.Event(msg)))
		return m, nil

	case RunDoneMsg:
		if msg.Err != nil {
			m.running = false
			m.SetError(msg.Err)
			return m, nil
		}
		m.SetRun(msg.Run)
		m.AddMessage("Run " + msg.Run.ID + " finished")
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "1":
		m.SetActiveView(ViewSummary)
	case "2":
		m.SetActiveView(ViewTrades)
	case "3":
		m.SetActiveView(ViewEquity)

	case "tab":
		m.SetActiveView(View((int(m.activeView) + 1) % len(viewNames)))
	case "shift+tab":
		m.SetActiveView(View((int(m.activeView) + len(viewNames) - 1) % len(viewNames)))

	case "j", "down":
		m.ScrollTrades(1)
	case "k", "up":
		m.ScrollTrades(-1)
	case "pgdown":
		m.ScrollTrades(m.tradeRows())
	case "pgup":
		m.ScrollTrades(-m.tradeRows())
	case "g", "home":
		m.tradeOffset = 0

	case "c":
		m.ClearError()
	}

	return m, nil
}

func describeEvent(e service.Event) string {
	switch e.Type {
	case service.EventTrade:
		if e.Trade != nil {
			return fmt.Sprintf("%s trade closed (%s) PnL $%s", e.Trade.Side, e.Trade.ExitReason, e.Trade.PnL.StringFixed(2))
		}
	case service.EventCompleted:
		if e.Summary != nil {
			return fmt.Sprintf("completed: %d trades, return %s%%", e.Summary.TotalTrades, e.Summary.TotalReturn.StringFixed(2))
		}
	case service.EventFailed:
		return "failed: " + e.Error
	}
	return string(e.Type) + " " + e.StrategyID
}
