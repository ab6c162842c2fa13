/*
Package dispatch implements a failover outbound dispatcher: a fallback-cache probe, then an
ordered schedule walk bounded by a per-attempt timeout, with the health checker's published
Schedule as the source of truth for ordering. github.com/hashicorp/golang-lru/v2/expirable
provides the bounded, time-expiring fallback cache keyed by destination string.
*/
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/markdingo/trustyproxy/internal/concurrencytracker"
	"github.com/markdingo/trustyproxy/internal/health"
	"github.com/markdingo/trustyproxy/internal/outbound"
)

const me = "dispatch"

// Dispatcher walks a health-checker-ranked schedule of outbound actors, with an optional
// destination-keyed fallback cache ahead of it and an optional last-resort behind it. It
// satisfies outbound.Dispatcher (via DialUDP) and reporter.Reporter.
type Dispatcher struct {
	actors     []outbound.Actor
	lastResort outbound.Actor // nil if none configured
	resolver   outbound.Resolver
	checker    *health.Checker
	config     Config

	fallback *lru.LRU[string, int] // nil if disabled

	inFlight concurrencytracker.Counter

	statsMu          sync.Mutex
	attempts         int
	successes        int
	failures         int
	fallbackHits     int
	lastResortRoutes int
}

// New constructs a Dispatcher. actors must be non-empty; lastResort may be nil. checker's
// background loop is started lazily, on the first call to Handle.
func New(actors []outbound.Actor, lastResort outbound.Actor, resolver outbound.Resolver, checker *health.Checker, config Config) *Dispatcher {
	config = config.withDefaults()
	d := &Dispatcher{
		actors:     actors,
		lastResort: lastResort,
		resolver:   resolver,
		checker:    checker,
		config:     config,
	}
	if config.FallbackCacheSize > 0 {
		d.fallback = lru.NewLRU[string, int](config.FallbackCacheSize, nil, config.FallbackCacheTTL)
	}

	return d
}

// Handle routes sess through the failover schedule: fallback cache, then ranked actors in order,
// then a last resort if the schedule is empty.
func (d *Dispatcher) Handle(ctx context.Context, sess *outbound.Session) (net.Conn, error) {
	d.checker.Start(ctx) // Lazy, first-use start; Checker.Start is itself idempotent.

	d.inFlight.Add()
	defer d.inFlight.Done()

	destKey := sess.Destination.String()

	// A miss or a failed attempt here falls through to the main schedule without touching the
	// cache entry.
	if d.fallback != nil {
		if idx, ok := d.fallback.Get(destKey); ok && idx >= 0 && idx < len(d.actors) {
			conn, err := d.attempt(ctx, sess, d.actors[idx])
			if err == nil {
				d.statsMu.Lock()
				d.fallbackHits++
				d.statsMu.Unlock()
				d.recordResult(true)
				return conn, nil
			}
		}
	}

	// Snapshot the current schedule under the checker's lock, then release it.
	schedule := d.checker.Schedule()

	// Empty schedule with a last resort configured - route there, no timeout budget.
	if len(schedule) == 0 {
		if d.lastResort == nil {
			d.recordResult(false)
			return nil, fmt.Errorf(me+": schedule is empty for %s and no last resort is configured", destKey)
		}
		conn, err := outbound.ConnectStreamOutbound(ctx, sess, d.resolver, d.lastResort)
		d.recordResult(err == nil)
		if err != nil {
			return nil, err
		}
		d.statsMu.Lock()
		d.lastResortRoutes++
		d.statsMu.Unlock()

		return conn, nil
	}

	// Walk the schedule in order.
	for position, idx := range schedule {
		if idx < 0 || idx >= len(d.actors) {
			d.recordResult(false)
			return nil, fmt.Errorf(me+": invalid actor index %d in schedule", idx)
		}

		conn, err := d.attempt(ctx, sess, d.actors[idx])
		if err != nil {
			continue
		}

		if d.fallback != nil && position > 0 {
			d.fallback.Add(destKey, idx)
		}
		d.recordResult(true)

		return conn, nil
	}

	// Every schedule entry failed.
	d.recordResult(false)

	return nil, errors.New(me + ": all outbound attempts failed")
}

func (d *Dispatcher) attempt(ctx context.Context, sess *outbound.Session, actor outbound.Actor) (net.Conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.config.FailTimeout)
	defer cancel()

	return outbound.ConnectStreamOutbound(attemptCtx, sess, d.resolver, actor)
}

func (d *Dispatcher) recordResult(success bool) {
	d.statsMu.Lock()
	d.attempts++
	if success {
		d.successes++
	} else {
		d.failures++
	}
	d.statsMu.Unlock()
}

// DialUDP satisfies outbound.Dispatcher, used by the resolver facade's indirect DNS dispatch
// path. UDP egress has no actor-chain concept in this design - Actor/StreamHandler only wrap TCP
// handshakes - so the datagram socket is bound directly against the literal destination rather
// than walked through the stream failover schedule.
func (d *Dispatcher) DialUDP(ctx context.Context, sess *outbound.Session) (net.Conn, error) {
	if !sess.Destination.IsLiteral() {
		return nil, fmt.Errorf(me+": DialUDP requires a literal destination, got domain %q", sess.Destination.Domain)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", sess.Destination.String())
	if err != nil {
		return nil, fmt.Errorf(me+": dial udp %s: %w", sess.Destination.String(), err)
	}

	return conn, nil
}

// Name meets the reporter.Reporter interface.
func (d *Dispatcher) Name() string { return me }

// Report meets the reporter.Reporter interface.
func (d *Dispatcher) Report(resetCounters bool) string {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	s := fmt.Sprintf(
		"attempts=%d successes=%d failures=%d fallbackHits=%d lastResortRoutes=%d inFlightPeak=%d",
		d.attempts, d.successes, d.failures, d.fallbackHits, d.lastResortRoutes, d.inFlight.Peak(resetCounters),
	)
	if resetCounters {
		d.attempts, d.successes, d.failures, d.fallbackHits, d.lastResortRoutes = 0, 0, 0, 0, 0
	}

	return s
}
