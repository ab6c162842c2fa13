package dohprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTryLookupSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("accept"); got != "application/dns-json" {
			t.Errorf("missing/wrong accept header: %q", got)
		}
		if r.URL.Query().Get("name") != "example.com" {
			t.Errorf("wrong name param: %q", r.URL.Query().Get("name"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Answer":[{"data":"93.184.216.34","TTL":60}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Providers: []string{srv.URL}}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e, err := p.TryLookup(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("TryLookup: %v", err)
	}
	if len(e.Addrs) != 1 || e.Addrs[0].String() != "93.184.216.34" {
		t.Fatalf("unexpected addrs: %v", e.Addrs)
	}
	if e.Deadline.Before(time.Now()) {
		t.Fatal("deadline should be in the future")
	}
}

func TestTryLookupLastAnswerTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Answer":[{"data":"1.2.3.4","TTL":300},{"data":"1.2.3.5","TTL":10}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Providers: []string{srv.URL}}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := time.Now()
	e, err := p.TryLookup(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("TryLookup: %v", err)
	}

	// Deadline should reflect the last answer's TTL (10s), not the first (300s). With these values
	// the last TTL is also the minimum, so this does not tell last from min.
	if e.Deadline.After(before.Add(60 * time.Second)) {
		t.Fatalf("deadline %v looks like it used the first TTL, not the last", e.Deadline)
	}
}

func TestTryLookupCooldown(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(Config{Providers: []string{srv.URL}, CooldownDuration: time.Minute}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.TryLookup(context.Background(), "example.com")
	if err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	// Second call within the cooldown window must not hit the network at all.
	_, err = p.TryLookup(context.Background(), "example.com")
	if err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cooldown to suppress the second call, got %d calls", calls)
	}
}

func TestTryLookupEmptyAnswerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Answer":[]}`))
	}))
	defer srv.Close()

	p, err := New(Config{Providers: []string{srv.URL}}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.TryLookup(context.Background(), "example.com")
	if err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
