package main

/*
This module is the DNS-facing front end of the demo proxy. It accepts ordinary DNS queries on UDP
and/or TCP and answers them using the resolver facade's Lookup - which itself runs the cache
lookup, static-hosts lookup and UDP fan-out described elsewhere in this module. Lookup does not
attempt the DoH probe; only DirectLookup does.

Only A and AAAA queries are answered from resolved addresses; every other query type gets an
empty, non-error response, since this proxy's whole purpose is demonstrating address resolution
and outbound failover, not general-purpose DNS serving.
*/

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/markdingo/trustyproxy/internal/concurrencytracker"
	"github.com/markdingo/trustyproxy/internal/resolver"

	"github.com/miekg/dns"
)

const (
	serNoAddresses serFailureIndex = iota
	serDNSWriteFailed
	serListSize
)

type serFailureIndex int

type stats struct {
	successCount    int
	totalLatency    time.Duration
	failureCounters [serListSize]int
}

type server struct {
	stdout        io.Writer
	facade        *resolver.Facade
	listenAddress string
	transport     string
	dnsServer     *dns.Server
	cct           concurrencytracker.Counter

	mu sync.RWMutex
	stats
}

func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	var notifyWG sync.WaitGroup
	var once sync.Once

	notifyWG.Add(1)
	t.dnsServer = &dns.Server{Addr: t.listenAddress, Net: t.transport, Handler: t, NotifyStartedFunc: func() {
		once.Do(func() { notifyWG.Done() })
	}}

	wg.Add(1)
	go func() {
		errorChan <- t.dnsServer.ListenAndServe()
		once.Do(func() { notifyWG.Done() })
		wg.Done()
	}()
	notifyWG.Wait()
}

func (t *server) stop() {
	if t.dnsServer != nil {
		t.dnsServer.Shutdown()
	}
}

// ServeDNS is called once per query in a newly created goroutine by miekg/dns.
func (t *server) ServeDNS(writer dns.ResponseWriter, query *dns.Msg) {
	t.cct.Add()
	defer t.cct.Done()

	resp := new(dns.Msg)
	resp.SetReply(query)

	if len(query.Question) == 0 {
		writer.WriteMsg(resp)
		return
	}
	q := query.Question[0]

	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		writer.WriteMsg(resp)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := strings.TrimSuffix(q.Name, ".")
	addrs, err := t.facade.Lookup(ctx, host)
	duration := time.Since(start)
	if err != nil {
		t.addFailureStats(serNoAddresses)
		resp.Rcode = dns.RcodeServerFailure
		writer.WriteMsg(resp)
		return
	}

	for _, ip := range addrs {
		var rr dns.RR
		switch {
		case q.Qtype == dns.TypeA && ip.To4() != nil:
			rr = &dns.A{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: ip.To4()}
		case q.Qtype == dns.TypeAAAA && ip.To4() == nil:
			rr = &dns.AAAA{Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60}, AAAA: ip}
		default:
			continue
		}
		resp.Answer = append(resp.Answer, rr)
	}

	if err := writer.WriteMsg(resp); err != nil {
		t.addFailureStats(serDNSWriteFailed)
		return
	}

	t.addSuccessStats(duration)
}

func (t *server) addSuccessStats(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
	t.totalLatency += latency
}

func (t *server) addFailureStats(ix serFailureIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCounters[ix]++
}

func (t *server) Name() string {
	return "server(" + t.listenAddress + "/" + t.transport + ")"
}

func (t *server) Report(resetCounters bool) string {
	if resetCounters {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	errs := 0
	for _, v := range t.failureCounters {
		errs += v
	}
	req := t.successCount + errs

	var al float64
	if t.successCount > 0 {
		al = t.totalLatency.Seconds() / float64(t.successCount)
	}

	s := fmt.Sprintf("req=%d ok=%d al=%0.3f errs=%d noAddr=%d writeFail=%d concurrency=%d",
		req, t.successCount, al, errs,
		t.failureCounters[serNoAddresses], t.failureCounters[serDNSWriteFailed],
		t.cct.Peak(resetCounters))

	if resetCounters {
		t.stats = stats{}
	}

	return s
}

func addrWithDefaultPort(addr, defaultPort string) string {
	ip := net.ParseIP(addr)
	if ip != nil && ip.To4() == nil {
		addr = "[" + addr + "]"
	}
	if strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]") {
		return addr
	}

	return addr + ":" + defaultPort
}
