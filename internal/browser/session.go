package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/interfaces"
)

// stealthJS hides the automation fingerprint before any site script runs.
// Without it the music site's bot detection intermittently blocks form
// submission.
const stealthJS = `
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5], configurable: true });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
	if (!window.chrome) { window.chrome = {}; }
	window.chrome.runtime = {};
`

// SessionConfig holds configuration for a chromedp browser session
type SessionConfig struct {
	Headless        bool
	NoSandbox       bool
	DisableGPU      bool
	UserAgent       string
	ProfileDir      string // Persistent user-data-dir; empty for a throwaway profile
	ExecPath        string // Optional explicit Chrome binary
	PageLoadTimeout time.Duration
}

// Session drives one real browser over the DevTools protocol. It implements
// interfaces.BrowserSession.
type Session struct {
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	pageLoadTimeout time.Duration
	logger          arbor.ILogger
	closeOnce       sync.Once
}

// NewSession launches a browser with the given configuration and verifies
// it responds before returning.
func NewSession(config SessionConfig, logger arbor.ILogger) (*Session, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.ProfileDir))
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	pageLoadTimeout := config.PageLoadTimeout
	if pageLoadTimeout <= 0 {
		pageLoadTimeout = 15 * time.Second
	}

	// Startup test plus stealth script registration
	startCtx, startCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer startCancel()

	err := chromedp.Run(startCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthJS).Do(ctx)
			return err
		}),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Info().
		Bool("headless", config.Headless).
		Str("profile_dir", config.ProfileDir).
		Msg("Browser session launched")

	return &Session{
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		pageLoadTimeout: pageLoadTimeout,
		logger:          logger,
	}, nil
}

// Navigate loads a URL and waits for the document to be ready
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the page's current location
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// IsVisible reports whether the selector resolves to a visible element.
// Single pass; waiting is the driver's concern.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, selector)

	var visible bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility check failed for %q: %w", selector, err)
	}
	return visible, nil
}

// Fill sets the value of the element matched by selector and fires the
// input events framework-rendered forms listen for
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const proto = el.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) {
			setter.set.call(el, %q);
		} else {
			el.value = %q;
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value, value)

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("fill failed for %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("fill target %q not found", selector)
	}
	return nil
}

// Click clicks the element matched by selector
func (s *Session) Click(ctx context.Context, selector string) error {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click failed for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs a script in page context, unmarshalling into out
func (s *Session) Evaluate(ctx context.Context, script string, out interface{}) error {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// PageHTML returns the rendered document markup
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// Cookies exports the session cookies so artifact downloads can reuse the
// authenticated browser session over plain HTTP
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	runCtx, cancel := s.runContext(ctx, s.pageLoadTimeout)
	defer cancel()

	var cookies []*http.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to export cookies: %w", err)
	}
	return cookies, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocatorCancel()
		s.logger.Debug().Msg("Browser session closed")
	})
	return nil
}

// runContext derives a chromedp-compatible context honoring both the
// caller's cancellation and the operation timeout
func (s *Session) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	if ctx == nil {
		return runCtx, cancel
	}

	// Propagate the caller's cancellation into the browser context
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

var _ interfaces.BrowserSession = (*Session)(nil)
