package risk

import (
	"errors"
	"testing"
)

func TestCheck_WithinLimits(t *testing.T) {
	l := NewExposureLimiter(1000, 5000)
	if err := l.Check(100, 500, 3000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheck_BettorLimitExceeded(t *testing.T) {
	l := NewExposureLimiter(1000, 5000)
	if err := l.Check(600, 500, 0); !errors.Is(err, ErrBettorLimitExceeded) {
		t.Errorf("expected ErrBettorLimitExceeded, got %v", err)
	}
}

func TestCheck_ExactLimitAllowed(t *testing.T) {
	l := NewExposureLimiter(1000, 0)
	if err := l.Check(500, 500, 0); err != nil {
		t.Errorf("hitting the limit exactly should pass, got %v", err)
	}
}

func TestCheck_OperatorLimitExceeded(t *testing.T) {
	l := NewExposureLimiter(0, 5000)
	if err := l.Check(100, 0, 4950); !errors.Is(err, ErrOperatorLimitExceeded) {
		t.Errorf("expected ErrOperatorLimitExceeded, got %v", err)
	}
}

func TestCheck_ZeroLimitsDisableChecks(t *testing.T) {
	l := NewExposureLimiter(0, 0)
	if err := l.Check(1_000_000, 1_000_000, 1_000_000); err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}
}
