package controller

import (
	"errors"
	"testing"
	"time"
)

func TestWithDefaultsAppliesDocumentedDefaults(t *testing.T) {
	o, err := Options{MaximumPoolSize: 4}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if o.MinimumIdle != 4 {
		t.Fatalf("expected MinimumIdle to default to MaximumPoolSize, got %d", o.MinimumIdle)
	}
	if o.ConnectionTimeout != 30*time.Second {
		t.Fatalf("expected ConnectionTimeout default of 30s, got %v", o.ConnectionTimeout)
	}
	if o.ValidationTimeout != 5*time.Second {
		t.Fatalf("expected ValidationTimeout default of 5s, got %v", o.ValidationTimeout)
	}
}

func TestWithDefaultsRejectsExplicitValidationTimeoutAboveConnectionTimeout(t *testing.T) {
	_, err := Options{
		MaximumPoolSize:   4,
		ConnectionTimeout: time.Second,
		ValidationTimeout: 2 * time.Second,
	}.withDefaults()
	if !errors.Is(err, ErrInvalidValidationTimeout) {
		t.Fatalf("expected ErrInvalidValidationTimeout, got %v", err)
	}
}

func TestWithDefaultsClampsImplicitValidationTimeoutToConnectionTimeout(t *testing.T) {
	o, err := Options{
		MaximumPoolSize:   4,
		ConnectionTimeout: 300 * time.Millisecond,
	}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if o.ValidationTimeout != o.ConnectionTimeout {
		t.Fatalf("expected the unset ValidationTimeout to clamp to ConnectionTimeout, got %v", o.ValidationTimeout)
	}
}

func TestWithDefaultsRejectsZeroMaximumPoolSize(t *testing.T) {
	if _, err := (Options{}).withDefaults(); !errors.Is(err, ErrInvalidMaximumPoolSize) {
		t.Fatalf("expected ErrInvalidMaximumPoolSize, got %v", err)
	}
}

func TestWithDefaultsRejectsMinimumIdleAboveMaximum(t *testing.T) {
	_, err := Options{MaximumPoolSize: 2, MinimumIdle: 3}.withDefaults()
	if !errors.Is(err, ErrInvalidMinimumIdle) {
		t.Fatalf("expected ErrInvalidMinimumIdle, got %v", err)
	}
}
