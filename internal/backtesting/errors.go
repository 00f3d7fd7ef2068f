package backtesting

import (
	"errors"
	"fmt"
)

// Operation identifies the stage that rejected a backtest
type Operation string

const (
	OperationValidate  Operation = "validate"
	OperationLoadBars  Operation = "load_bars"
	OperationLoadRules Operation = "load_strategy"
)

var (
	ErrNoBars           = errors.New("no historical bars")
	ErrInsufficientBars = errors.New("not enough bars to evaluate any rule")
	ErrUnorderedBars    = errors.New("bar timestamps must be strictly increasing")
	ErrNilStrategy      = errors.New("strategy is required")
	ErrInvalidCapital   = errors.New("initial capital must be positive")
)

// InputError reports a backtest rejected before the simulation loop started.
// No partial result exists for such a run.
type InputError struct {
	Op     Operation
	Target string
	Err    error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	if e.Target != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *InputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInputError constructs an InputError, leaving errors that already are
// one untouched.
func NewInputError(op Operation, target string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InputError
	if errors.As(err, &ie) {
		return err
	}
	return &InputError{Op: op, Target: target, Err: err}
}

// IsInputError reports whether err was caused by invalid backtest input
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
