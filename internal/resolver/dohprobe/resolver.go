/*
Package dohprobe implements an opportunistic DNS-over-HTTPS fallback: an advisory lookup path
that is gated by a cooldown after failure and never itself treated as fatal.

A single GET goes to "<provider>/dns-query?name=<host>" with an "accept: application/dns-json"
header - the simpler Cloudflare-style DNS-JSON format, not RFC8484's binary wire encoding. A
single cooldown list, shared by all providers, suppresses every probe for a while after any
failure, and the cache deadline is
computed from the last Answer record's TTL. Provider selection reuses internal/bestserver's
latency-ranked manager and a mockable HTTPClientDo so tests avoid a real network round trip.
*/
package dohprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/markdingo/trustyproxy/internal/bestserver"
	"github.com/markdingo/trustyproxy/internal/resolver/cache"
)

const me = "resolver/dohprobe"

// HTTPClientDo is the only http.Client method this package uses. Declaring it as an interface
// lets tests supply a fake transport without a real network round trip.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// ErrUnavailable is returned whenever the probe declines to try (cooldown in effect) or the
// attempt failed for any reason. DoH failure is never fatal to the caller.
var ErrUnavailable = errors.New(me + ": unavailable")

type dnsJSONAnswer struct {
	Data string `json:"data"`
	TTL  uint32 `json:"TTL"`
}

type dnsJSONResponse struct {
	Answer []dnsJSONAnswer `json:"Answer"`
}

type bestServerStats struct {
	success  int
	failures int
}

type bestServer struct {
	name string
	bestServerStats
}

func (t *bestServer) Name() string { return t.name }

// Prober performs the DoH lookup described above.
type Prober struct {
	httpClient HTTPClientDo
	cooldown   time.Duration
	timeout    time.Duration

	bestServer bestserver.Manager

	coolMu       sync.Mutex
	lastFailures []time.Time // Mirrors the Rust source's Vec<Instant>; only the tail matters.

	mu      sync.Mutex
	bsList  []*bestServer
	success int
	failed  int
}

// New constructs a Prober from config. httpClient may be nil, in which case http.DefaultClient is
// used.
func New(config Config, httpClient HTTPClientDo) (*Prober, error) {
	if len(config.Providers) == 0 {
		return nil, errors.New(me + ": at least one provider is required")
	}

	p := &Prober{httpClient: httpClient}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}

	p.cooldown = config.CooldownDuration
	if p.cooldown == 0 {
		p.cooldown = DefaultCooldownDuration
	}
	p.timeout = config.RequestTimeout
	if p.timeout == 0 {
		p.timeout = DefaultRequestTimeout
	}

	p.bsList = make([]*bestServer, 0, len(config.Providers))
	ifList := make([]bestserver.Server, 0, len(config.Providers))
	for _, url := range config.Providers {
		bs := &bestServer{name: url}
		p.bsList = append(p.bsList, bs)
		ifList = append(ifList, bs)
	}

	var err error
	p.bestServer, err = bestserver.NewLatency(config.LatencyConfig, ifList)
	if err != nil {
		return nil, fmt.Errorf(me+": could not construct bestServer manager: %w", err)
	}

	return p, nil
}

// TryLookup attempts a single opportunistic DoH lookup for host. It returns ErrUnavailable (never
// wrapped with transport detail, since DoH failure is advisory, not fatal) if the cooldown is in
// effect or the attempt failed for any reason.
func (p *Prober) TryLookup(ctx context.Context, host string) (*cache.Entry, error) {
	if !p.coolDownExpired() {
		return nil, ErrUnavailable
	}

	provider, bsix := p.bestServer.Best()
	url := provider.Name() + "/dns-query?name=" + host

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		p.recordFailure(bsix)
		return nil, ErrUnavailable
	}
	req.Header.Set("accept", "application/dns-json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.bestServer.Result(provider, false, time.Now(), 0)
		p.recordFailure(bsix)
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.bestServer.Result(provider, false, time.Now(), 0)
		p.recordFailure(bsix)
		return nil, ErrUnavailable
	}

	var parsed dnsJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		p.bestServer.Result(provider, false, time.Now(), 0)
		p.recordFailure(bsix)
		return nil, ErrUnavailable
	}

	var addrs []net.IP
	var lastTTL uint32
	for _, a := range parsed.Answer {
		ip := net.ParseIP(a.Data)
		if ip == nil {
			continue
		}
		addrs = append(addrs, ip)
		lastTTL = a.TTL // Deliberately keep only the last parseable record's TTL.
	}

	if len(addrs) == 0 {
		p.bestServer.Result(provider, false, time.Now(), 0)
		p.recordFailure(bsix)
		return nil, ErrUnavailable
	}

	p.bestServer.Result(provider, true, time.Now(), time.Since(start))
	p.recordSuccess(bsix)

	return &cache.Entry{Addrs: addrs, Deadline: time.Now().Add(time.Duration(lastTTL) * time.Second)}, nil
}

// coolDownExpired checks, and if appropriate clears, the cooldown list. It returns false (probe
// must be skipped) if a failure was recorded within the configured cooldown window.
func (p *Prober) coolDownExpired() bool {
	p.coolMu.Lock()
	defer p.coolMu.Unlock()

	if len(p.lastFailures) > 0 {
		last := p.lastFailures[len(p.lastFailures)-1]
		if time.Since(last) < p.cooldown {
			return false
		}
		p.lastFailures = p.lastFailures[:0]
	}

	return true
}

func (p *Prober) recordFailure(bsix int) {
	p.coolMu.Lock()
	p.lastFailures = append(p.lastFailures, time.Now())
	p.coolMu.Unlock()

	p.mu.Lock()
	p.failed++
	if bsix >= 0 && bsix < len(p.bsList) {
		p.bsList[bsix].failures++
	}
	p.mu.Unlock()
}

func (p *Prober) recordSuccess(bsix int) {
	p.mu.Lock()
	p.success++
	if bsix >= 0 && bsix < len(p.bsList) {
		p.bsList[bsix].success++
	}
	p.mu.Unlock()
}

// Name meets the reporter.Reporter interface.
func (p *Prober) Name() string { return me }

// Report meets the reporter.Reporter interface.
func (p *Prober) Report(resetCounters bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := fmt.Sprintf("success=%d failed=%d providers=%d", p.success, p.failed, len(p.bsList))
	if resetCounters {
		p.success, p.failed = 0, 0
		for _, bs := range p.bsList {
			bs.bestServerStats = bestServerStats{}
		}
	}

	return s
}
