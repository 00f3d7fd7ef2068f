package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guyghost/quantbt/internal/service"
	"github.com/guyghost/quantbt/internal/store"
)

// Model is the backtest viewer state
type Model struct {
	run     *store.Run
	title   string
	running bool

	// UI state
	width       int
	height      int
	activeView  View
	tradeOffset int

	messages []string

	// Error handling
	lastError error
	errorTime time.Time
}

// View identifies a tab
type View int

const (
	ViewSummary View = iota
	ViewTrades
	ViewEquity
)

var viewNames = []string{"Summary", "Trades", "Equity"}

func (v View) String() string {
	if int(v) < len(viewNames) {
		return viewNames[v]
	}
	return "Unknown"
}

// NewModel creates a viewer. A nil run shows the viewer in the running state
// until a RunDoneMsg arrives.
func NewModel(title string, run *store.Run) Model {
	return Model{
		run:        run,
		title:      title,
		running:    run == nil,
		activeView: ViewSummary,
		messages:   make([]string, 0),
	}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

// EventMsg carries a run event into the viewer
type EventMsg service.Event

// RunDoneMsg reports the end of the run being watched
type RunDoneMsg struct {
	Run *store.Run
	Err error
}

// AddMessage adds a message to the message log
func (m *Model) AddMessage(message string) {
	timestamp := time.Now().Format("15:04:05")
	m.messages = append(m.messages, timestamp+" "+message)

	// Keep only last 100 messages
	if len(m.messages) > 100 {
		m.messages = m.messages[1:]
	}
}

// GetRecentMessages returns the most recent messages
func (m *Model) GetRecentMessages(count int) []string {
	if len(m.messages) <= count {
		return m.messages
	}
	return m.messages[len(m.messages)-count:]
}

// Run returns the run being displayed
func (m *Model) Run() *store.Run {
	return m.run
}

// SetRun displays a finished run
func (m *Model) SetRun(run *store.Run) {
	m.run = run
	m.running = false
	m.tradeOffset = 0
}

// IsRunning reports whether the viewer is still waiting for a result
func (m *Model) IsRunning() bool {
	return m.running
}

// UpdateDimensions updates the terminal dimensions
func (m *Model) UpdateDimensions(width, height int) {
	m.width = width
	m.height = height
}

// SetActiveView sets the active tab
func (m *Model) SetActiveView(view View) {
	m.activeView = view
}

// GetActiveView returns the active tab
func (m *Model) GetActiveView() View {
	return m.activeView
}

// ScrollTrades moves the trade table by delta rows, clamped to the trade list
func (m *Model) ScrollTrades(delta int) {
	if m.run == nil || m.run.Result == nil {
		return
	}
	last := max(0, len(m.run.Result.Trades)-1)
	m.tradeOffset = max(0, min(last, m.tradeOffset+delta))
}

// SetError sets the current error
func (m *Model) SetError(err error) {
	m.lastError = err
	m.errorTime = time.Now()
	if err != nil {
		m.AddMessage("Error: " + err.Error())
	}
}

// ClearError clears the current error
func (m *Model) ClearError() {
	m.lastError = nil
}

// tradeRows is how many trade rows fit on screen
func (m *Model) tradeRows() int {
	return max(5, m.height-14)
}
