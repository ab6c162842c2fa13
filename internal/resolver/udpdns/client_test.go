package udpdns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// fakeDNSServer answers every query received with a fixed A record, unless silent is true in
// which case it never responds (used to simulate a server that always times out).
func fakeDNSServer(t *testing.T, silent bool, ip string, ttl uint32) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			if silent {
				continue
			}
			q := new(dns.Msg)
			if err := q.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := new(dns.Msg)
			resp.SetReply(q)
			rr, _ := dns.NewRR(q.Question[0].Name + " " + itoa(ttl) + " IN A " + ip)
			resp.Answer = append(resp.Answer, rr)
			out, err := resp.Pack()
			if err != nil {
				continue
			}
			conn.WriteTo(out, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := ""
	for v > 0 {
		digits = string(rune('0'+v%10)) + digits
		v /= 10
	}

	return digits
}

func TestRaceFirstSuccessWins(t *testing.T) {
	slow := fakeDNSServer(t, true, "", 0) // Never answers
	fast := fakeDNSServer(t, false, "93.184.216.34", 60)

	c, err := New(Config{
		Servers:        []string{slow, fast},
		AttemptTimeout: 200 * time.Millisecond,
		Retries:        1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	results, errs := c.Query(context.Background(), "example.com", false, false)
	elapsed := time.Since(start)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d (errs=%v)", len(results), errs)
	}
	if results[0].Addrs[0].String() != "93.184.216.34" {
		t.Fatalf("unexpected addr: %v", results[0].Addrs)
	}
	if elapsed > time.Second {
		t.Fatalf("race took too long: %v (should win well before the silent server's timeout)", elapsed)
	}
}

func TestQueryBothFamiliesOrdering(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer conn.Close()

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			q := new(dns.Msg)
			if err := q.Unpack(buf[:n]); err != nil {
				continue
			}
			resp := new(dns.Msg)
			resp.SetReply(q)
			var rr dns.RR
			if q.Question[0].Qtype == dns.TypeAAAA {
				rr, _ = dns.NewRR(q.Question[0].Name + " 60 IN AAAA ::1")
			} else {
				rr, _ = dns.NewRR(q.Question[0].Name + " 60 IN A 1.2.3.4")
			}
			resp.Answer = append(resp.Answer, rr)
			out, _ := resp.Pack()
			conn.WriteTo(out, addr)
		}
	}()

	c, err := New(Config{Servers: []string{conn.LocalAddr().String()}, AttemptTimeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, errs := c.Query(context.Background(), "example.com", true, true)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Addrs[0].String() != "::1" {
		t.Fatalf("expected AAAA first when preferred, got %v", results[0].Addrs)
	}
	if results[1].Addrs[0].String() != "1.2.3.4" {
		t.Fatalf("expected A second, got %v", results[1].Addrs)
	}
}
