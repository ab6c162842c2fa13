package cache

import (
	"net"
	"testing"
	"time"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return s
}

func ips(strs ...string) []net.IP {
	out := make([]net.IP, 0, len(strs))
	for _, s := range strs {
		out = append(out, net.ParseIP(s))
	}

	return out
}

// Family discipline: a v4-addressed entry only ever shows up when v4 is consulted, never v6.
func TestFamilyDiscipline(t *testing.T) {
	s := mustStore(t)
	now := time.Now()
	s.Insert("v4host", &Entry{Addrs: ips("10.0.0.1"), Deadline: now.Add(time.Minute)})
	s.Insert("v6host", &Entry{Addrs: ips("::1"), Deadline: now.Add(time.Minute)})

	if _, ok := s.v4.Get("v6host"); ok {
		t.Fatal("v6 entry leaked into v4 map")
	}
	if _, ok := s.v6.Get("v4host"); ok {
		t.Fatal("v4 entry leaked into v6 map")
	}
}

// Rotation bounds + idempotence: rotating to an address already cached puts it first; rotating
// again is a no-op on the now-already-first address.
func TestRotationIdempotentAndBounded(t *testing.T) {
	s := mustStore(t)
	now := time.Now()
	s.Insert("foo", &Entry{Addrs: ips("10.0.0.1", "10.0.0.2", "10.0.0.3"), Deadline: now.Add(time.Minute)})

	s.Rotate("foo", net.ParseIP("10.0.0.2")) // [2,3,1]
	e, _ := s.v4.Get("foo")
	got := e.Addrs
	want := ips("10.0.0.2", "10.0.0.3", "10.0.0.1")
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("after rotation: got %v, want %v", got, want)
		}
	}

	s.Rotate("foo", net.ParseIP("10.0.0.2")) // Second rotation of the same addr: idempotent
	e2, _ := s.v4.Get("foo")
	for i := range want {
		if !e2.Addrs[i].Equal(want[i]) {
			t.Fatalf("after second rotation: got %v, want unchanged %v", e2.Addrs, want)
		}
	}

	// Rotating an address absent from the sequence leaves it unchanged.
	s.Rotate("foo", net.ParseIP("10.0.0.99"))
	e3, _ := s.v4.Get("foo")
	for i := range want {
		if !e3.Addrs[i].Equal(want[i]) {
			t.Fatalf("rotating absent addr changed sequence: got %v", e3.Addrs)
		}
	}
}

// Rotation must use a linear scan - exercised here by rotating twice in a row to different
// addresses, which would desynchronise a binary-search index lookup against the now-unsorted
// slice.
func TestRotationSurvivesRepeatedReordering(t *testing.T) {
	s := mustStore(t)
	now := time.Now()
	s.Insert("foo", &Entry{Addrs: ips("10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"), Deadline: now.Add(time.Minute)})

	s.Rotate("foo", net.ParseIP("10.0.0.3")) // [3,4,1,2]
	s.Rotate("foo", net.ParseIP("10.0.0.4")) // [4,1,2,3]

	e, _ := s.v4.Get("foo")
	want := ips("10.0.0.4", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	for i := range want {
		if !e.Addrs[i].Equal(want[i]) {
			t.Fatalf("got %v, want %v", e.Addrs, want)
		}
	}
}

func TestExpiry(t *testing.T) {
	s := mustStore(t)
	now := time.Now()
	s.Insert("foo", &Entry{Addrs: ips("10.0.0.1"), Deadline: now.Add(time.Millisecond)})

	_, res := s.Lookup("foo", false, false, now)
	if res != Hit {
		t.Fatalf("expected Hit before deadline, got %v", res)
	}

	_, res = s.Lookup("foo", false, false, now.Add(time.Second))
	if res != Expired {
		t.Fatalf("expected Expired after deadline, got %v", res)
	}
}

func TestLookupFamilyOrdering(t *testing.T) {
	s := mustStore(t)
	now := time.Now()
	s.Insert("dual", &Entry{Addrs: ips("1.2.3.4"), Deadline: now.Add(time.Minute)})
	s.Insert("dual", &Entry{Addrs: ips("::1"), Deadline: now.Add(time.Minute)})

	addrs, res := s.Lookup("dual", true, true, now)
	if res != Hit {
		t.Fatalf("expected Hit, got %v", res)
	}
	if len(addrs) != 2 || !addrs[0].Equal(net.ParseIP("::1")) {
		t.Fatalf("expected v6 first when preferred, got %v", addrs)
	}

	addrs, res = s.Lookup("dual", true, false, now)
	if res != Hit || !addrs[0].Equal(net.ParseIP("1.2.3.4")) {
		t.Fatalf("expected v4 first when not preferred, got %v", addrs)
	}
}

func TestLookupMiss(t *testing.T) {
	s := mustStore(t)
	_, res := s.Lookup("nope", true, false, time.Now())
	if res != Miss {
		t.Fatalf("expected Miss, got %v", res)
	}
}
