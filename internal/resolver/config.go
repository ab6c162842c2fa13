package resolver

import (
	"net"
	"time"

	"github.com/markdingo/trustyproxy/internal/resolver/dohprobe"
)

// Config is passed to New() and treated as an immutable value shared by reference for the life of
// the Facade - there is no mid-run mutation of the IPv6 switches or cache sizes. The only run-time
// replacement is of the static hosts map, through Facade.ReloadHosts rather than touching Config
// in place; the server list is fixed once New() returns.
type Config struct {
	Servers []string            // Ordered UDP resolver endpoints, at least one.
	Hosts   map[string][]net.IP // Static overrides; literal IPs only.

	EnableIPv6 bool // Whether AAAA queries are issued and v6 entries are consulted.
	PreferIPv6 bool // If enabled, v6 precedes v4 in results.

	CacheCapacity  int           // Per-family LRU capacity.
	Retries        int           // UDP attempts per server per query.
	AttemptTimeout time.Duration // Per-attempt UDP receive timeout.

	// DoH is optional: a zero-value DoH.Providers leaves the opportunistic DNS-over-HTTPS
	// fallback disabled entirely, which is a legitimate configuration (DoH is advisory).
	DoH        dohprobe.Config
	HTTPClient dohprobe.HTTPClientDo
}

var DefaultCacheCapacity = 1024
