// Package testutil provides helpers for lifecycle-managed components in
// tests.
package testutil

import (
	"context"
	"testing"

	"github.com/datarill/datarill/component"
)

// Setup starts a component and returns a cleanup function that stops it.
func Setup(ctx context.Context, c component.Component) (func(), error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return func() { _ = c.Stop(context.Background()) }, nil
}

// THelper binds component setup to a *testing.T so failures abort the test
// and cleanup runs automatically.
type THelper struct {
	t   *testing.T
	ctx context.Context
}

// T wraps a *testing.T.
func T(t *testing.T) *THelper {
	return &THelper{t: t, ctx: context.Background()}
}

// WithContext overrides the context used for Start/Stop calls.
func (h *THelper) WithContext(ctx context.Context) *THelper {
	h.ctx = ctx
	return h
}

// Setup starts the component, failing the test on error, and registers its
// shutdown as test cleanup.
func (h *THelper) Setup(c component.Component) {
	h.t.Helper()
	cleanup, err := Setup(h.ctx, c)
	if err != nil {
		h.t.Fatalf("starting %s: %v", c.Name(), err)
	}
	h.t.Cleanup(cleanup)
}
