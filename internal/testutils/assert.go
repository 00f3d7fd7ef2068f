package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// AssertEqual fails the test when expected != actual
func AssertEqual(t *testing.T, expected, actual any, message string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", message, expected, actual)
	}
}

// AssertDecimal fails the test when two decimals differ in value
func AssertDecimal(t *testing.T, expected, actual decimal.Decimal, message string) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Errorf("%s: expected %s, got %s", message, expected, actual)
	}
}

func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("%s: expected true", message)
	}
}

func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("%s: expected false", message)
	}
}

func AssertNotNil(t *testing.T, value any, message string) {
	t.Helper()
	if value == nil {
		t.Errorf("%s: expected non-nil value", message)
	}
}

func AssertNoError(t *testing.T, err error, message string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", message, err)
	}
}

func AssertError(t *testing.T, err error, message string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", message)
	}
}

// CreateTestContext returns a context that expires after five seconds
func CreateTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
