package marketdata

import (
	"errors"
	"sync"
	"time"

	"github.com/guyghost/quantbt/internal/logger"
)

// BreakerState is the state of a Breaker
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateOpen                         // Failing, reject requests
	StateHalfOpen                     // Probing whether the source recovered
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker rejects requests
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned when a half-open breaker already has a probe running
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration
	// OnStateChange is called with the breaker lock held
	OnStateChange func(name string, from, to BreakerState)
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// Breaker stops calling a failing source until a cooldown elapses
type Breaker struct {
	name   string
	config *BreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    uint32
	lastFailure time.Time
	probing     bool

	log *logger.Logger
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}

	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
		log:    logger.Component("breaker").WithField("source", name),
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Errors for which ignore returns true do not count as failures.
func (b *Breaker) Execute(fn func() error, ignore func(error) bool) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()
	b.after(err == nil || (ignore != nil && ignore(err)))
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.config.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		b.log.Info("breaker half-open, probing source")
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}

	if success {
		if b.state == StateHalfOpen {
			b.log.Info("breaker closed after successful probe")
		}
		b.setState(StateClosed)
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.MaxFailures {
			b.setState(StateOpen)
			b.log.Warn("breaker opened",
				"failures", b.failures,
				"cooldown", b.config.Cooldown)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.log.Warn("breaker reopened after failed probe")
	}
}

func (b *Breaker) setState(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, next)
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failures = 0
	b.probing = false
}
