package provider

import (
	"context"
	"errors"
	"fmt"
)

// Snapshot is the normalized shape returned by all providers.
// A snapshot is never mutated after a provider returns it.
type Snapshot struct {
	Base   string             `json:"base"`
	Rates  map[string]float64 `json:"rates"`
	Date   string             `json:"date"`
	TS     int64              `json:"ts"` // unix ms of the fetch
	Source string             `json:"source"`
}

type Provider interface {
	Name() string
	Fetch(ctx context.Context, base string, symbols []string) (Snapshot, error)
}

// ErrNoSymbols is returned when a request resolves to an empty symbol set.
var ErrNoSymbols = errors.New("symbols required")

// UpstreamError wraps any non-2xx response or transport failure from a provider.
type UpstreamError struct {
	Provider string
	Status   int // 0 for transport failures
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s HTTP %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
