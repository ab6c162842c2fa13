package dispatch

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markdingo/trustyproxy/internal/health"
	"github.com/markdingo/trustyproxy/internal/outbound"
)

// stubActor's handshake behaviour can be flipped at runtime via failFlag, so a single actor can
// succeed during a health-check probe and later fail at actual dispatch time - exactly the
// mismatch S5 exercises. delay pads the handshake so health-check ranking is deterministic.
type stubActor struct {
	tag      string
	failFlag *atomic.Bool
	delay    time.Duration
}

func (a *stubActor) Tag() string { return a.tag }
func (a *stubActor) Stream() (outbound.StreamHandler, error) {
	return stubHandler{fail: a.failFlag.Load(), delay: a.delay}, nil
}

type stubHandler struct {
	fail  bool
	delay time.Duration
}

func (h stubHandler) Handle(_ context.Context, _ *outbound.Session, conn net.Conn) (net.Conn, error) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.fail {
		conn.Close()
		return nil, errors.New("stub actor instructed to fail")
	}
	return conn, nil
}

type stubResolver struct{}

func (stubResolver) Lookup(_ context.Context, host string) ([]net.IP, error) {
	return []net.IP{net.ParseIP(host)}, nil
}
func (stubResolver) DirectLookup(_ context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return []net.IP{net.ParseIP("127.0.0.1")}, nil
}
func (stubResolver) OptimizeCache(string, net.IP) {}

// echoOnceListener accepts connections and writes a single byte back on each before closing,
// enough for a health-check probe's read to succeed.
func echoOnceListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 64)
				conn.Read(buf)
				conn.Write([]byte{'x'})
			}()
		}
	}()
	return ln.Addr().String()
}

func destSession(addr string) *outbound.Session {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	return &outbound.Session{Destination: outbound.Destination{IP: net.ParseIP(host), Port: port}}
}

// waitForSchedule polls until checker.Schedule() equals want or the deadline elapses.
func waitForSchedule(t *testing.T, checker *health.Checker, want []int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := checker.Schedule()
		if equalInts(got, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("schedule never reached %v, last seen %v", want, checker.Schedule())
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// S5: health check ranks "one" ahead of "zero" (schedule [1,0]); "one" is then flipped to fail at
// actual dispatch time. The dispatcher falls through to "zero", which succeeds at schedule
// position 1, so the fallback cache must record dest -> 0 afterwards.
func TestScheduleFailoverAndFallbackInsertion(t *testing.T) {
	echoAddr := echoOnceListener(t)

	oneFail := &atomic.Bool{}  // false: succeeds fast during the probe
	zeroFail := &atomic.Bool{} // always succeeds, but slower

	actors := []outbound.Actor{
		&stubActor{tag: "zero", failFlag: zeroFail, delay: 40 * time.Millisecond},
		&stubActor{tag: "one", failFlag: oneFail},
	}

	checker := health.New(actors, nil, stubResolver{}, health.Config{
		Failover: true, CheckTimeout: time.Second, CheckInterval: time.Hour, HealthCheckAddr: echoAddr,
	})
	d := New(actors, nil, stubResolver{}, checker, Config{FailTimeout: time.Second, FallbackCacheSize: 16})

	checker.Start(context.Background())
	waitForSchedule(t, checker, []int{1, 0})

	oneFail.Store(true) // "one" now fails at dispatch time, despite having probed well

	sess := destSession(echoAddr)
	conn, err := d.Handle(context.Background(), sess)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	conn.Close()

	destKey := sess.Destination.String()
	idx, ok := d.fallback.Get(destKey)
	if !ok || idx != 0 {
		t.Fatalf("expected fallback cache to record %s -> 0, got idx=%d ok=%v", destKey, idx, ok)
	}
}

// Invariant 7, the negative case: a first-position success must NOT be recorded in the fallback
// cache.
func TestFirstPositionSuccessNotCached(t *testing.T) {
	echoAddr := echoOnceListener(t)
	alwaysOK := &atomic.Bool{}
	actors := []outbound.Actor{&stubActor{tag: "zero", failFlag: alwaysOK}}

	checker := health.New(actors, nil, stubResolver{}, health.Config{
		Failover: true, CheckTimeout: time.Second, CheckInterval: time.Hour, HealthCheckAddr: echoAddr,
	})
	d := New(actors, nil, stubResolver{}, checker, Config{FailTimeout: time.Second, FallbackCacheSize: 16})
	checker.Start(context.Background())
	waitForSchedule(t, checker, []int{0})

	sess := destSession(echoAddr)
	conn, err := d.Handle(context.Background(), sess)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	conn.Close()

	if _, ok := d.fallback.Get(sess.Destination.String()); ok {
		t.Fatalf("a position-0 success must not populate the fallback cache")
	}
}

// S6: every probe times out, a last resort is configured, the schedule goes empty, and the
// dispatcher must route through the last resort with no attempt timeout applied.
func TestLastResortTriggerOnEmptySchedule(t *testing.T) {
	echoAddr := echoOnceListener(t)
	deadFlag := &atomic.Bool{}
	deadFlag.Store(true)
	actors := []outbound.Actor{&stubActor{tag: "dead", failFlag: deadFlag}}
	lastResort := &stubActor{tag: "last-resort", failFlag: &atomic.Bool{}}

	checker := health.New(actors, lastResort, stubResolver{}, health.Config{
		CheckTimeout: 100 * time.Millisecond, CheckInterval: time.Hour, HealthCheckAddr: "127.0.0.1:1",
	})
	d := New(actors, lastResort, stubResolver{}, checker, Config{FailTimeout: time.Millisecond})
	checker.Start(context.Background())
	waitForSchedule(t, checker, nil)

	conn, err := d.Handle(context.Background(), destSession(echoAddr))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	conn.Close()

	if d.lastResortRoutes != 1 {
		t.Fatalf("expected exactly one last-resort route, got %d", d.lastResortRoutes)
	}
}
