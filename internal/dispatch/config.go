package dispatch

import "time"

// Config parameterises a Dispatcher. FallbackCacheSize of 0 disables the fallback cache entirely.
type Config struct {
	FailTimeout time.Duration // Per-attempt budget; the last resort is exempt.

	FallbackCacheSize int           // 0 disables the cache.
	FallbackCacheTTL  time.Duration
}

var (
	DefaultFailTimeout      = 5 * time.Second
	DefaultFallbackCacheTTL = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.FailTimeout <= 0 {
		c.FailTimeout = DefaultFailTimeout
	}
	if c.FallbackCacheSize > 0 && c.FallbackCacheTTL <= 0 {
		c.FallbackCacheTTL = DefaultFallbackCacheTTL
	}

	return c
}
