/*
Package resolver implements the orchestration layer that ties the resolution path together:
literal-IP short-circuit, cache lookup, static-hosts lookup, parallel A/AAAA query fan-out, and
cache insert. It composes internal/resolver/cache, internal/resolver/dohprobe and
internal/resolver/udpdns, so this package itself carries almost no DNS-wire or LRU logic of its
own.

The dispatcher back-reference (SetDispatcher/dialIndirect below) exists because DNS lookups
issued for the proxy's own outbound connections need to route through the same failover dispatcher
those connections use, while the dispatcher in turn depends on this resolver to look up its
actors' destinations - a Facade is constructed first with a nil dispatcher handle, then
SetDispatcher backfills it once the dispatcher exists.
*/
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdingo/trustyproxy/internal/outbound"
	"github.com/markdingo/trustyproxy/internal/resolver/cache"
	"github.com/markdingo/trustyproxy/internal/resolver/dohprobe"
	"github.com/markdingo/trustyproxy/internal/resolver/udpdns"
)

const me = "resolver"

// staticHostCacheDuration is the long deadline assigned to a promoted, multi-address static host
// entry so that subsequent lookups can benefit from rotation.
const staticHostCacheDuration = 6000 * time.Second

// Facade is the resolver the rest of the proxy talks to. It satisfies internal/outbound.Resolver.
type Facade struct {
	hostsMu sync.RWMutex
	hosts   map[string][]net.IP

	enableIPv6 bool
	preferIPv6 bool

	store *cache.Store

	directClient   *udpdns.Client
	indirectClient *udpdns.Client

	doh *dohprobe.Prober // nil if DoH is not configured

	dispatcher atomic.Pointer[outbound.Dispatcher]

	mu      sync.Mutex
	lookups int
	hits    int
	misses  int
	dohHits int
}

// New constructs a Facade with its dispatcher handle left nil. Construct the failover dispatcher
// afterwards and call SetDispatcher to back-fill it.
func New(config Config) (*Facade, error) {
	if len(config.Servers) == 0 {
		return nil, errors.New(me + ": at least one DNS server is required")
	}

	capacity := config.CacheCapacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	store, err := cache.NewStore(capacity)
	if err != nil {
		return nil, fmt.Errorf(me+": cache store: %w", err)
	}

	f := &Facade{
		hosts:      copyHosts(config.Hosts),
		enableIPv6: config.EnableIPv6,
		preferIPv6: config.PreferIPv6,
		store:      store,
	}

	udpConfig := udpdns.Config{Servers: config.Servers, Retries: config.Retries, AttemptTimeout: config.AttemptTimeout}
	f.directClient, err = udpdns.New(udpConfig)
	if err != nil {
		return nil, fmt.Errorf(me+": udp client: %w", err)
	}

	indirectConfig := udpConfig
	indirectConfig.NewConnFunc = f.dialIndirect
	f.indirectClient, err = udpdns.New(indirectConfig)
	if err != nil {
		return nil, fmt.Errorf(me+": udp client (indirect): %w", err)
	}

	if len(config.DoH.Providers) > 0 {
		f.doh, err = dohprobe.New(config.DoH, config.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf(me+": doh probe: %w", err)
		}
	}

	return f, nil
}

func copyHosts(in map[string][]net.IP) map[string][]net.IP {
	out := make(map[string][]net.IP, len(in))
	for k, v := range in {
		out[k] = append([]net.IP{}, v...)
	}

	return out
}

// dialIndirect routes a per-server datagram socket through the bound dispatcher instead of a
// freshly bound local socket. Returns ErrNoDispatcher, a recoverable error, if the back-reference
// has not been filled in yet.
func (f *Facade) dialIndirect(ctx context.Context, server string) (udpdns.Conn, error) {
	d := f.dispatcher.Load()
	if d == nil {
		return nil, outbound.ErrNoDispatcher
	}
	host, port, err := net.SplitHostPort(server)
	if err != nil {
		host, port = server, "53"
	}
	portNum := 53
	fmt.Sscanf(port, "%d", &portNum)

	sess := &outbound.Session{Destination: outbound.Destination{IP: net.ParseIP(host), Port: portNum}}

	return (*d).DialUDP(ctx, sess)
}

// SetDispatcher back-fills the dispatcher handle used for indirect DNS dispatch. It is safe to
// call concurrently with Lookup/DirectLookup; a nil argument clears the handle.
func (f *Facade) SetDispatcher(d outbound.Dispatcher) {
	if d == nil {
		f.dispatcher.Store(nil)
		return
	}
	f.dispatcher.Store(&d)
}

// Lookup resolves host via the indirect path - through the bound dispatcher - and is what
// outbound connectors normally call. It satisfies internal/outbound.Resolver.
func (f *Facade) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	return f.lookup(ctx, host, false)
}

// DirectLookup resolves host bypassing the dispatcher entirely - used when routing through the
// proxy's own outbound graph would be circular (resolving the proxy's own upstream DNS servers,
// for instance). It also permits the DoH probe, which Lookup does not attempt.
func (f *Facade) DirectLookup(ctx context.Context, host string) ([]net.IP, error) {
	return f.lookup(ctx, host, true)
}

func (f *Facade) lookup(ctx context.Context, host string, direct bool) ([]net.IP, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()

	// Literal short-circuit. No I/O, no cache touch at all.
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	// Cache lookup.
	now := time.Now()
	addrs, res := f.store.Lookup(host, f.enableIPv6, f.preferIPv6, now)
	switch res {
	case cache.Hit:
		f.mu.Lock()
		f.hits++
		f.mu.Unlock()
		return addrs, nil
	case cache.Expired:
		// Not an error: an expired entry is treated like a miss and the name is re-resolved.
	}
	f.mu.Lock()
	f.misses++
	f.mu.Unlock()

	// Opportunistic DoH, only on the direct path.
	if direct && f.doh != nil {
		if entry, err := f.doh.TryLookup(ctx, host); err == nil {
			f.store.Insert(host, entry)
			f.mu.Lock()
			f.dohHits++
			f.mu.Unlock()
			return entry.Addrs, nil
		}
	}

	// Static hosts.
	f.hostsMu.RLock()
	hostAddrs, ok := f.hosts[host]
	f.hostsMu.RUnlock()
	if ok && len(hostAddrs) > 0 {
		if len(hostAddrs) > 1 {
			f.store.Insert(host, &cache.Entry{Addrs: hostAddrs, Deadline: now.Add(staticHostCacheDuration)})
		}
		return hostAddrs, nil
	}

	// Parallel A/AAAA fan-out across all configured servers.
	client := f.indirectClient
	if direct {
		client = f.directClient
	}

	results, errs := client.Query(ctx, host, f.enableIPv6, f.preferIPv6)
	var accumulated []net.IP
	for _, r := range results {
		f.store.Insert(host, &cache.Entry{Addrs: r.Addrs, Deadline: r.Deadline})
		accumulated = append(accumulated, r.Addrs...)
	}

	if len(accumulated) == 0 {
		if len(errs) > 0 {
			return nil, errs[len(errs)-1]
		}

		return nil, fmt.Errorf(me+": no addresses found for %s", host)
	}

	return accumulated, nil
}

// OptimizeCache feeds a successful connection's address back into the cache so the next lookup
// tries it first. It satisfies internal/outbound.Resolver. Literal-IP hosts are never stored in
// the cache in the first place, so this is naturally a no-op for them.
func (f *Facade) OptimizeCache(host string, addr net.IP) {
	f.store.Rotate(host, addr)
}

// ReloadHosts replaces the static hosts map in place. It is the only hot-reload the Facade offers:
// the server list, the outbound graph and the IPv6 policy stay as constructed.
func (f *Facade) ReloadHosts(hosts map[string][]net.IP) {
	f.hostsMu.Lock()
	f.hosts = copyHosts(hosts)
	f.hostsMu.Unlock()
}

// Name meets the reporter.Reporter interface.
func (f *Facade) Name() string { return me }

// Report meets the reporter.Reporter interface.
func (f *Facade) Report(resetCounters bool) string {
	f.mu.Lock()
	s := fmt.Sprintf("lookups=%d hits=%d misses=%d dohHits=%d", f.lookups, f.hits, f.misses, f.dohHits)
	if resetCounters {
		f.lookups, f.hits, f.misses, f.dohHits = 0, 0, 0, 0
	}
	f.mu.Unlock()

	return s + " | " + f.store.Report(resetCounters)
}
