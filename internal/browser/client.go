package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// networkIdleSettle is the quiet period appended after document-complete
// when navigating with WaitNetworkIdle.
const networkIdleSettle = time.Second

// Client is the chromedp-backed Driver implementation. It attaches to an
// already-running browser over a remote DevTools websocket endpoint; it
// never launches or kills browser processes (provisioning is external).
type Client struct {
	endpoint string

	mu          sync.Mutex
	allocCancel context.CancelFunc
	taskCancel  context.CancelFunc
	taskCtx     context.Context
	connected   bool
}

// NewClient creates a client for the given ws:// control endpoint.
func NewClient(endpoint string) *Client {
	return &Client{endpoint: endpoint}
}

// Connect attaches to the remote browser and verifies it responds.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), c.endpoint, chromedp.NoModifyURL)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	probeCtx, cancel := context.WithTimeout(taskCtx, HealthProbeTimeout)
	defer cancel()
	var one int
	if err := chromedp.Run(probeCtx, chromedp.Evaluate(`1`, &one)); err != nil {
		taskCancel()
		allocCancel()
		return fmt.Errorf("attaching to %s: %w", c.endpoint, err)
	}

	c.allocCancel = allocCancel
	c.taskCancel = taskCancel
	c.taskCtx = taskCtx
	c.connected = true
	return nil
}

// Close tears down the control session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.taskCancel != nil {
		c.taskCancel()
		c.taskCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	c.taskCtx = nil
	c.connected = false
}

// Connected reports whether the transport is believed healthy.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// session returns the task context, or ErrDisconnected.
func (c *Client) session() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.taskCtx == nil {
		return nil, ErrDisconnected
	}
	if c.taskCtx.Err() != nil {
		c.connected = false
		return nil, ErrDisconnected
	}
	return c.taskCtx, nil
}

// run executes actions against the session, bounded by both the caller's
// context and timeout. A transport-level failure marks the client
// disconnected.
func (c *Client) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, err := c.session()
	if err != nil {
		return err
	}

	runCtx := tctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(tctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		err = <-done
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil && tctx.Err() != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return ErrDisconnected
	}
	return err
}

// CurrentURL returns the page's current location.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, HealthProbeTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Navigate drives the page to url and waits per mode.
func (c *Client) Navigate(ctx context.Context, url string, mode WaitMode, timeout time.Duration) error {
	err := c.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if mode != WaitNetworkIdle {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		var state string
		if err := c.Evaluate(ctx, `document.readyState`, &state); err != nil {
			return err
		}
		if state == "complete" {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("navigating to %s: page never completed", url)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(networkIdleSettle):
	}
	return nil
}

// Evaluate runs script in page context.
func (c *Client) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard json.RawMessage
		out = &discard
	}
	if err := c.run(ctx, 10*time.Second, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluating script: %w", err)
	}
	return nil
}

// PressKey dispatches a keyboard event for the DOM key name to the focused
// element. Dispatching in page context keeps the client independent of the
// DevTools raw-input domain.
func (c *Client) PressKey(ctx context.Context, key string) error {
	script := fmt.Sprintf(
		`(() => { const t = document.activeElement || document.body;
		   for (const type of ["keydown", "keyup"]) {
		     t.dispatchEvent(new KeyboardEvent(type, {key: %q, bubbles: true, cancelable: true}));
		   }
		   return true; })()`, key)
	var ok bool
	return c.Evaluate(ctx, script, &ok)
}

// Click clicks the first visible element matching the CSS selector.
func (c *Client) Click(ctx context.Context, selector string) error {
	if err := c.run(ctx, 5*time.Second, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// HealthProbe returns nil iff a trivial scripted expression completes in time.
func (c *Client) HealthProbe(ctx context.Context) error {
	var one int
	if err := c.run(ctx, HealthProbeTimeout, chromedp.Evaluate(`1`, &one)); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("health probe returned unexpected value %d", one)
	}
	return nil
}

// Endpoint returns the configured control endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

var _ Driver = (*Client)(nil)

// SanitizeEndpoint normalizes host:port forms to ws:// URLs.
func SanitizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint
}
