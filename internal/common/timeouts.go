package common

import (
	"context"
	"time"

	"github.com/melodana/songforge/internal/interfaces"
)

// timeoutKeys maps key/value store entries to TimeoutConfig fields. Values
// are Go duration strings ("90s", "2m"). A stored override wins over the
// config file.
var timeoutKeys = map[string]func(*TimeoutConfig, time.Duration){
	"timeout_login_wait":        func(t *TimeoutConfig, d time.Duration) { t.LoginWait = d },
	"timeout_completion_poll":   func(t *TimeoutConfig, d time.Duration) { t.CompletionPoll = d },
	"timeout_poll_interval":     func(t *TimeoutConfig, d time.Duration) { t.PollInterval = d },
	"timeout_element_wait":      func(t *TimeoutConfig, d time.Duration) { t.ElementWait = d },
	"timeout_page_load":         func(t *TimeoutConfig, d time.Duration) { t.PageLoad = d },
	"timeout_download":          func(t *TimeoutConfig, d time.Duration) { t.Download = d },
	"timeout_post_submit_delay": func(t *TimeoutConfig, d time.Duration) { t.PostSubmitDelay = d },
}

// ResolveTimeouts overlays key/value store overrides on the configured
// timeouts. Unparseable or missing entries leave the config value in place.
func ResolveTimeouts(ctx context.Context, base TimeoutConfig, kv interfaces.KeyValueStorage) TimeoutConfig {
	resolved := base
	for key, apply := range timeoutKeys {
		value, err := kv.Get(ctx, key)
		if err != nil {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			continue
		}
		apply(&resolved, d)
	}
	return resolved
}
