// Package browser provides the control-plane client for the headful browser
// instances that render the provider's web player. One client per tuner,
// speaking the DevTools protocol to a fixed TCP endpoint.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrDisconnected is returned once the control-plane transport has dropped.
// All operations fail with it until the owner reconnects.
var ErrDisconnected = errors.New("browser control disconnected")

// WaitMode selects how long Navigate blocks after issuing the navigation.
type WaitMode int

const (
	// WaitDOMReady returns once the document body is ready.
	WaitDOMReady WaitMode = iota
	// WaitNetworkIdle returns once the document is complete and the page
	// has settled.
	WaitNetworkIdle
)

// HealthProbeTimeout bounds the trivial scripted health expression.
const HealthProbeTimeout = 2 * time.Second

// Driver is the operation surface the tuner drives. The production
// implementation is Client; tests substitute fakes.
type Driver interface {
	// Connect establishes the control-plane session.
	Connect(ctx context.Context) error
	// Close tears the session down. Safe to call when not connected.
	Close() error
	// Connected reports whether the transport is believed healthy.
	Connected() bool
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Navigate drives the page to url and waits per mode, bounded by timeout.
	Navigate(ctx context.Context, url string, mode WaitMode, timeout time.Duration) error
	// Evaluate runs script in page context and unmarshals the result into
	// out. out may be nil when the result is irrelevant.
	Evaluate(ctx context.Context, script string, out any) error
	// PressKey dispatches a keyboard event (DOM key name) to the page.
	PressKey(ctx context.Context, key string) error
	// Click clicks the first visible element matching the CSS selector.
	Click(ctx context.Context, selector string) error
	// HealthProbe returns nil iff a trivial scripted expression completes
	// within HealthProbeTimeout.
	HealthProbe(ctx context.Context) error
}
