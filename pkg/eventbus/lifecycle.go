package eventbus

import (
	"context"
	"sync"
	"testing"
)

// ProviderFactory builds the Transport an Init call should wire in. It is
// given the same ctx Init was called with, so a provider can dial a broker
// with the caller's deadline.
type ProviderFactory func(ctx context.Context) (Transport, error)

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Init constructs the process-wide default Bus from provider, wires its
// delivery callback, starts the transport loop, and publishes the instance
// globally (spec.md §6, `init(provider_factory)`). Re-initializing without
// a prior Shutdown fails with AlreadyInitialized — callers that want
// several independent buses in one process should use NewBus directly
// instead (spec.md §9, "global bus singleton → explicit handle").
func Init(ctx context.Context, provider ProviderFactory) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus != nil {
		return ErrAlreadyInitialized()
	}

	transport, err := provider(ctx)
	if err != nil {
		return err
	}
	bus, err := NewBus(ctx, transport)
	if err != nil {
		return err
	}
	defaultBus = bus
	return nil
}

// Default returns the process-wide Bus installed by Init, or
// NotInitialized if Init has not run (or Shutdown already tore it down).
func Default() (*Bus, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBus == nil {
		return nil, ErrNotInitialized()
	}
	return defaultBus, nil
}

// Shutdown marks the default bus as stopping, unsubscribes all handlers,
// cancels pending RPC waits (surfacing Shutdown to every waiter), stops
// the transport, and clears the process-wide reference. It is idempotent:
// calling it with no bus installed is a silent no-op, matching spec.md
// §8's "two calls produce the same observable state as one".
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	bus := defaultBus
	defaultBus = nil
	defaultMu.Unlock()

	if bus == nil {
		return nil
	}
	return bus.Close(ctx)
}

// Reset tears down the default bus between test cases, the Go equivalent
// of pymq's reset() test hook (SPEC_FULL.md §3 — not part of the stable
// facade, test tooling only).
func Reset(t testing.TB) {
	t.Helper()
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("eventbus: reset failed to shut down default bus: %v", err)
	}
}
