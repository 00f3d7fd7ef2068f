package service

import (
	"sync"
	"time"

	"github.com/guyghost/quantbt/internal/backtesting"
	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/telemetry"
	"github.com/shopspring/decimal"
)

// EventType names a run lifecycle event
type EventType string

const (
	EventStarted   EventType = "started"
	EventTrade     EventType = "trade"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is published while a run progresses
type Event struct {
	Type       EventType          `json:"type"`
	RunID      string             `json:"run_id"`
	StrategyID string             `json:"strategy_id"`
	Symbol     string             `json:"symbol,omitempty"`
	Time       time.Time          `json:"time"`
	Trade      *backtesting.Trade `json:"trade,omitempty"`
	Summary    *Summary           `json:"summary,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Summary is the headline of a completed run
type Summary struct {
	FinalCapital decimal.Decimal `json:"final_capital"`
	TotalReturn  decimal.Decimal `json:"total_return"`
	TotalTrades  int             `json:"total_trades"`
	WinRate      decimal.Decimal `json:"win_rate"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
}

func summarize(r *backtesting.Result) *Summary {
	return &Summary{
		FinalCapital: r.FinalCapital,
		TotalReturn:  r.TotalReturn,
		TotalTrades:  r.TotalTrades,
		WinRate:      r.WinRate,
		MaxDrawdown:  r.MaxDrawdown,
	}
}

// Notifier receives run events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

// Notify calls f(e)
func (f NotifierFunc) Notify(e Event) { f(e) }

// Fanout delivers each event to every registered notifier
type Fanout struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// Add registers a notifier
func (f *Fanout) Add(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers = append(f.notifiers, n)
}

// Notify implements Notifier
func (f *Fanout) Notify(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, n := range f.notifiers {
		n.Notify(e)
	}
}

// notify delivers e, recovering from a panicking notifier
func notify(n Notifier, log *logger.Logger, e Event) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.RecordCallbackPanic()
			log.Error("notifier panicked", "event", e.Type, "panic", r)
		}
	}()
	n.Notify(e)
}
