// Driver translates high-level intents (fill this form, click submit, wait
// until this condition holds) into concrete browser actions. The selector
// registry decides WHICH element to act on; the retry policy tolerates
// transient resolution failures; selectors that work get promoted, selectors
// that fail through a whole retry budget get demoted once.

package browser

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/retry"
	"github.com/melodana/songforge/internal/selectors"
)

// WaitOpts bounds a long-wait operation. All waits are finite; a zero
// Timeout is rejected by the poll loop.
type WaitOpts struct {
	Timeout   time.Duration
	Interval  time.Duration
	StopCheck func() bool
}

// Driver orchestrates one browser session through registry-resolved
// selectors under the retry policy. elementWait bounds each single-pass
// visibility probe so a hung devtools round trip cannot stall the loop.
type Driver struct {
	session     interfaces.BrowserSession
	registry    *selectors.Registry
	policy      retry.Policy
	elementWait time.Duration
	logger      arbor.ILogger
}

// NewDriver wires a session, a selector registry, and a retry policy.
// An elementWait of 0 leaves visibility probes unbounded.
func NewDriver(session interfaces.BrowserSession, registry *selectors.Registry, policy retry.Policy, elementWait time.Duration, logger arbor.ILogger) *Driver {
	return &Driver{
		session:     session,
		registry:    registry,
		policy:      policy,
		elementWait: elementWait,
		logger:      logger,
	}
}

// Session exposes the underlying browser session
func (d *Driver) Session() interfaces.BrowserSession {
	return d.session
}

// OpenPage navigates to a URL, retrying transient failures
func (d *Driver) OpenPage(ctx context.Context, url string) error {
	return d.policy.Do(func() error {
		if err := d.session.Navigate(ctx, url); err != nil {
			return WrapDriverError(CategoryNetwork, err, "failed to open page")
		}
		return nil
	})
}

// resolveOnce tries the group's candidates in order, returning the first
// that resolves to a visible element. Selectors that did not resolve in
// this pass are recorded in failed.
func (d *Driver) resolveOnce(ctx context.Context, group string, failed map[string]bool) (string, bool) {
	for _, sel := range d.registry.Selectors(group) {
		visible, err := d.isVisible(ctx, sel)
		if err != nil {
			d.logger.Debug().Str("group", group).Str("selector", sel).Err(err).Msg("Selector check errored")
			failed[sel] = true
			continue
		}
		if visible {
			return sel, true
		}
		failed[sel] = true
	}
	return "", false
}

// isVisible is a single visibility probe bounded by elementWait
func (d *Driver) isVisible(ctx context.Context, selector string) (bool, error) {
	if d.elementWait > 0 {
		bounded, cancel := context.WithTimeout(ctx, d.elementWait)
		defer cancel()
		ctx = bounded
	}
	return d.session.IsVisible(ctx, selector)
}

// awaitElement resolves a logical element name to a concrete selector under
// the retry policy. The winning selector is promoted; after an exhausted
// budget every selector that failed to resolve is demoted exactly once.
func (d *Driver) awaitElement(ctx context.Context, group string) (string, error) {
	if len(d.registry.Selectors(group)) == 0 {
		return "", retry.Permanent(NewDriverError(CategoryConfiguration, "no selectors registered for %q", group))
	}

	failed := make(map[string]bool)
	var winner string

	err := d.policy.Do(func() error {
		if sel, ok := d.resolveOnce(ctx, group, failed); ok {
			winner = sel
			return nil
		}
		return NewDriverError(CategorySelectorNotFound, "no selector resolved for %q", group)
	})

	if err != nil {
		// Demote in current registry order so the resulting order is stable
		for _, sel := range d.registry.Selectors(group) {
			if failed[sel] {
				d.registry.Demote(group, sel)
			}
		}
		d.logger.Warn().Str("group", group).Int("demoted", len(failed)).Msg("Element resolution exhausted retry budget")
		return "", err
	}

	d.registry.Promote(group, winner)
	return winner, nil
}

// FillField fills the logical element with a value
func (d *Driver) FillField(ctx context.Context, group, value string) error {
	sel, err := d.awaitElement(ctx, group)
	if err != nil {
		return err
	}
	if err := d.session.Fill(ctx, sel, value); err != nil {
		return WrapDriverError(CategoryNetwork, err, "failed to fill "+group)
	}
	d.logger.Debug().Str("group", group).Str("selector", sel).Msg("Field filled")
	return nil
}

// ClickElement clicks the logical element
func (d *Driver) ClickElement(ctx context.Context, group string) error {
	sel, err := d.awaitElement(ctx, group)
	if err != nil {
		return err
	}
	if err := d.session.Click(ctx, sel); err != nil {
		return WrapDriverError(CategoryNetwork, err, "failed to click "+group)
	}
	d.logger.Debug().Str("group", group).Str("selector", sel).Msg("Element clicked")
	return nil
}

// Attribute resolves the logical element and reads an attribute from the
// rendered markup
func (d *Driver) Attribute(ctx context.Context, group, attr string) (string, error) {
	sel, err := d.awaitElement(ctx, group)
	if err != nil {
		return "", err
	}

	html, err := d.session.PageHTML(ctx)
	if err != nil {
		return "", WrapDriverError(CategoryNetwork, err, "failed to read page markup")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", WrapDriverError(CategoryNetwork, err, "failed to parse page markup")
	}

	value, ok := doc.Find(sel).First().Attr(attr)
	if !ok {
		return "", NewDriverError(CategorySelectorNotFound, "element %q has no attribute %q", group, attr)
	}
	return value, nil
}

// WaitForElement polls at a fixed interval until any of the group's
// selectors resolves, the stop check trips, or the timeout expires.
// Timeout is reported as a distinct error kind, not conflated with
// selector-resolution failure; no demotion happens here.
func (d *Driver) WaitForElement(ctx context.Context, group string, opts WaitOpts) error {
	if len(d.registry.Selectors(group)) == 0 {
		return retry.Permanent(NewDriverError(CategoryConfiguration, "no selectors registered for %q", group))
	}

	return d.waitFor(ctx, opts, "element "+group, func() (bool, error) {
		sel, ok := d.resolveOnce(ctx, group, map[string]bool{})
		if ok {
			d.registry.Promote(group, sel)
		}
		return ok, nil
	})
}

// WaitForURL polls the current location until match returns true
func (d *Driver) WaitForURL(ctx context.Context, match func(url string) bool, label string, opts WaitOpts) error {
	return d.waitFor(ctx, opts, label, func() (bool, error) {
		url, err := d.session.CurrentURL(ctx)
		if err != nil {
			// The page may be mid-navigation; treat as "not yet"
			d.logger.Debug().Err(err).Msg("URL poll failed - page may be navigating")
			return false, nil
		}
		return match(url), nil
	})
}

// waitFor is the shared fixed-interval poll loop. The stop check is
// consulted between polls; cancellation is never preemptive.
func (d *Driver) waitFor(ctx context.Context, opts WaitOpts, label string, cond func() (bool, error)) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		if opts.StopCheck != nil && opts.StopCheck() {
			return retry.ErrStopped
		}
		if ctx != nil && ctx.Err() != nil {
			return retry.ErrStopped
		}

		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().After(deadline) {
			return NewDriverError(CategoryWaitTimeout, "timed out after %s waiting for %s", opts.Timeout, label)
		}
		time.Sleep(interval)
	}
}
