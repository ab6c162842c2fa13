package dohprobe

import (
	"time"

	"github.com/markdingo/trustyproxy/internal/bestserver"
)

// Config is passed to New(). Providers is one or more DoH endpoint base URLs (e.g.
// "https://1.1.1.1"). Each lookup sends a single GET to the provider that bestserver's latency
// algorithm currently returns from Best() - normally the fastest, now and then another one being
// sampled; no other provider is tried within the same lookup.
type Config struct {
	Providers []string

	CooldownDuration time.Duration // Gate re-probing after a failure. Default 3s.
	RequestTimeout   time.Duration // Per-GET timeout. Default 2s.

	bestserver.LatencyConfig
}

var (
	DefaultCooldownDuration = 3 * time.Second
	DefaultRequestTimeout   = 2 * time.Second
)
