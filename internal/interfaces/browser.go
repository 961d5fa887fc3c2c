package interfaces

import (
	"context"
	"net/http"
)

// BrowserSession wraps one remote-controlled browser. It is the only
// component permitted to drive the external browser process; everything
// above it depends on this interface so the orchestration logic can be
// tested against a stub.
type BrowserSession interface {
	// Navigate loads a URL and waits for the document to be ready
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the page's current location
	CurrentURL(ctx context.Context) (string, error)

	// IsVisible reports whether the selector resolves to a visible,
	// interactable element right now (single pass, no waiting)
	IsVisible(ctx context.Context, selector string) (bool, error)

	// Fill sets the value of the element matched by selector
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the element matched by selector
	Click(ctx context.Context, selector string) error

	// Evaluate runs a script in page context, unmarshalling into out
	Evaluate(ctx context.Context, script string, out interface{}) error

	// PageHTML returns the rendered document markup
	PageHTML(ctx context.Context) (string, error)

	// Cookies exports the session cookies for authenticated HTTP downloads
	Cookies(ctx context.Context) ([]*http.Cookie, error)

	// Close shuts the browser down. Safe to call more than once.
	Close() error
}
