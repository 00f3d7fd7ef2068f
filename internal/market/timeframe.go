package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a bar period such as "1m", "4h" or "1d"
type Timeframe string

const (
	Timeframe1m Timeframe = "1m"
	Timeframe5m Timeframe = "5m"
	Timeframe1h Timeframe = "1h"
	Timeframe1d Timeframe = "1d"
)

// Unit is the trailing letter of a timeframe
type Unit byte

const (
	UnitMinute Unit = 'm'
	UnitHour   Unit = 'h'
	UnitDay    Unit = 'd'
	UnitWeek   Unit = 'w'
)

// Parse splits a timeframe into its amount and unit
func (tf Timeframe) Parse() (int, Unit, error) {
	s := strings.ToLower(strings.TrimSpace(string(tf)))
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	unit := Unit(s[len(s)-1])
	switch unit {
	case UnitMinute, UnitHour, UnitDay, UnitWeek:
	default:
		return 0, 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid timeframe amount in %q", tf)
	}
	return n, unit, nil
}

// Duration returns the wall-clock length of one bar
func (tf Timeframe) Duration() (time.Duration, error) {
	n, unit, err := tf.Parse()
	if err != nil {
		return 0, err
	}

	switch unit {
	case UnitMinute:
		return time.Duration(n) * time.Minute, nil
	case UnitHour:
		return time.Duration(n) * time.Hour, nil
	case UnitDay:
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
}

// Validate reports whether the timeframe is well formed
func (tf Timeframe) Validate() error {
	_, _, err := tf.Parse()
	return err
}

func (tf Timeframe) String() string {
	return string(tf)
}
