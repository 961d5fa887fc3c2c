package selectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/melodana/songforge/internal/interfaces"
)

// Check names one selector to verify on a public page. No login is needed;
// a redirect to an auth page still lets the body-level checks pass.
type Check struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

// CheckResult is the outcome of a single health check
type CheckResult struct {
	Check
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthReport aggregates one health check run
type HealthReport struct {
	Results []CheckResult `json:"results"`
}

// Passed counts checks that resolved
func (r *HealthReport) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.OK {
			n++
		}
	}
	return n
}

// Failed counts checks that did not resolve
func (r *HealthReport) Failed() int {
	return len(r.Results) - r.Passed()
}

// Summary renders the report as the diagnostics text shown to the user
func (r *HealthReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Selector Health Check: %d/%d passed", r.Passed(), len(r.Results))
	for _, res := range r.Results {
		status := "PASS"
		if !res.OK {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "\n  [%s] %s", status, res.Name)
		if res.Error != "" {
			fmt.Fprintf(&b, "\n         Error: %s", res.Error)
		}
	}
	return b.String()
}

// HealthChecker verifies that registered selectors still resolve on the
// target sites. Run from diagnostics, not from the worker path.
type HealthChecker struct {
	session interfaces.BrowserSession
	logger  arbor.ILogger
}

// NewHealthChecker wraps an open browser session
func NewHealthChecker(session interfaces.BrowserSession, logger arbor.ILogger) *HealthChecker {
	return &HealthChecker{session: session, logger: logger}
}

// Run executes the checks in order, navigating once per distinct URL.
// Navigation failures fail the affected check rather than aborting the run.
func (h *HealthChecker) Run(ctx context.Context, checks []Check) *HealthReport {
	report := &HealthReport{}
	currentURL := ""

	for _, check := range checks {
		result := CheckResult{Check: check}

		if check.URL != currentURL {
			if err := h.session.Navigate(ctx, check.URL); err != nil {
				result.Error = err.Error()
				report.Results = append(report.Results, result)
				h.logger.Warn().Str("check", check.Name).Err(err).Msg("Health check navigation failed")
				currentURL = ""
				continue
			}
			currentURL = check.URL
		}

		visible, err := h.session.IsVisible(ctx, check.Selector)
		switch {
		case err != nil:
			result.Error = err.Error()
		case !visible:
			result.Error = fmt.Sprintf("selector %q not found", check.Selector)
		default:
			result.OK = true
		}

		status := "PASS"
		if !result.OK {
			status = "FAIL"
		}
		h.logger.Info().Str("status", status).Str("check", check.Name).Msg("Health check")
		report.Results = append(report.Results, result)
	}
	return report
}

// ChecksForRegistry builds a check per registered selector against the
// given page URL, so the diagnostics screen covers exactly what the
// workers will use.
func ChecksForRegistry(r *Registry, pageURL string) []Check {
	var checks []Check
	for _, group := range r.GroupNames() {
		for _, sel := range r.Selectors(group) {
			checks = append(checks, Check{
				Name:     fmt.Sprintf("%s: %s", group, sel),
				URL:      pageURL,
				Selector: sel,
			})
		}
	}
	return checks
}
