package resilience

import (
	"time"

	"github.com/sells-group/crm-dedup/internal/config"
)

// FromConfig builds the retry policy from the retry section of the
// configuration. Zero values keep the defaults and a negative jitter
// disables jitter.
func FromConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = ms(c.InitialBackoffMs)
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = ms(c.MaxBackoffMs)
	}
	if c.RateLimitBackoffMs > 0 {
		cfg.RateLimitBackoff = ms(c.RateLimitBackoffMs)
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	cfg.JitterFraction = max(c.JitterFraction, 0)
	return cfg
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
