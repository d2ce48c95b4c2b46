// Package provider is the boundary to the external daily-bars data
// source. Loosely-typed provider payloads are validated into
// domain.RawBar here, so every later stage operates on a closed shape.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kabuto/internal/domain"
)

// Client fetches daily bars for one symbol over an inclusive date range.
// Implementations classify failures as transient (wrapped with
// Transient) or permanent, and report unknown or delisted symbols with
// ErrNotFound.
type Client interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.RawBar, error)
}

// ErrNotFound indicates the provider does not know the symbol (bad code
// or already delisted). Not retried; escalated for universe status
// correction.
var ErrNotFound = errors.New("symbol not found at provider")

// TransientError wraps failures worth retrying: timeouts, rate limits,
// and upstream 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth retrying. Context
// cancellation is never transient: a cancelled run must not spin.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// providerSymbol maps a bare numeric JP code to the ticker form the
// provider expects ("7203" becomes "7203.T" with suffix ".T"). Symbols
// already carrying a suffix, and non-numeric symbols, pass through.
func providerSymbol(symbol, suffix string) string {
	if suffix == "" || strings.Contains(symbol, ".") {
		return symbol
	}
	for _, r := range symbol {
		if r < '0' || r > '9' {
			return symbol
		}
	}
	return symbol + suffix
}
