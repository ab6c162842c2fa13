/*
Package udpdns implements a plaintext UDP DNS client: a single-server query procedure with bounded
retries and a per-attempt timeout, fanned out across all configured servers in parallel with
first-success-wins, using golang.org/x/sync/errgroup to bound and clean up the fan-out.

The retry loop remembers only the last error across attempts, matching the classic res_send(3)
convention, and the socket-acquisition step is pluggable (Config.NewConnFunc) so callers can supply
either a freshly bound local socket or one routed through an outbound dispatcher.
*/
package udpdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

const me = "resolver/udpdns"

// Conn is the narrow slice of net.Conn this package needs from a per-server datagram socket,
// whether it is a freshly dialed local UDP socket or one obtained indirectly via a dispatcher.
type Conn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Result is what a single-server query produces on success.
type Result struct {
	Addrs    []net.IP
	TTL      time.Duration
	Deadline time.Time
	Server   string
}

// Client issues queries against a fixed set of servers.
type Client struct {
	config Config
}

// New constructs a Client. Config.Servers must be non-empty.
func New(config Config) (*Client, error) {
	if len(config.Servers) == 0 {
		return nil, errors.New(me + ": at least one server is required")
	}
	if config.Retries <= 0 {
		config.Retries = DefaultRetries
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.NewConnFunc == nil {
		config.NewConnFunc = defaultNewConn
	}

	return &Client{config: config}, nil
}

func defaultNewConn(_ context.Context, server string) (Conn, error) {
	return net.Dial("udp", withDefaultPort(server))
}

func withDefaultPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}

	return net.JoinHostPort(server, "53")
}

// Query races host's A and/or AAAA query (as selected by enableIPv6/preferIPv6) across every
// configured server and returns the first successful Result for each requested type, with the
// preferred family's result ordered first. A family's result is simply omitted (not an error) if
// every server failed for it; the caller decides whether an empty set overall is an error.
func (c *Client) Query(ctx context.Context, host string, enableIPv6, preferIPv6 bool) ([]Result, []error) {
	types := c.queryTypes(enableIPv6, preferIPv6)

	// The per-type races run concurrently; outcomes are kept by position so the preferred family
	// stays first.
	raced := make([]Result, len(types))
	raceErrs := make([]error, len(types))
	var g errgroup.Group
	for ix, qtype := range types {
		ix, qtype := ix, qtype
		g.Go(func() error {
			raced[ix], raceErrs[ix] = c.raceOneType(ctx, host, qtype)
			return nil
		})
	}
	g.Wait()

	var results []Result
	var errs []error
	for ix := range types {
		if raceErrs[ix] != nil {
			errs = append(errs, raceErrs[ix])
			continue
		}
		results = append(results, raced[ix])
	}

	return results, errs
}

func (c *Client) queryTypes(enableIPv6, preferIPv6 bool) []uint16 {
	if !enableIPv6 {
		return []uint16{dns.TypeA}
	}
	if preferIPv6 {
		return []uint16{dns.TypeAAAA, dns.TypeA}
	}

	return []uint16{dns.TypeA, dns.TypeAAAA}
}

// raceOneType fans a single query type out across every configured server and returns the first
// success, cancelling the rest.
func (c *Client) raceOneType(ctx context.Context, host string, qtype uint16) (Result, error) {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(host), qtype)
	query.RecursionDesired = true
	buf, err := query.Pack()
	if err != nil {
		return Result{}, fmt.Errorf(me+": pack query: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	resCh := make(chan Result, len(c.config.Servers))
	var lastErr error

	for _, server := range c.config.Servers {
		server := server
		g.Go(func() error {
			res, err := c.querySingleServer(gctx, buf, host, server)
			if err != nil {
				return err // errgroup keeps only the first error, which is what a total failure reports
			}
			select {
			case resCh <- res:
			case <-gctx.Done():
			}

			return nil
		})
	}

	// Wait for either a winner or for every server to finish/fail.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case res := <-resCh:
		return res, nil
	case err := <-done:
		lastErr = err
		select {
		case res := <-resCh: // A winner could have raced in just as g.Wait() returned.
			return res, nil
		default:
		}
		if lastErr == nil {
			lastErr = fmt.Errorf(me+": no server answered for %s", host)
		}

		return Result{}, lastErr
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// querySingleServer runs the send/await/parse retry loop against one server.
func (c *Client) querySingleServer(ctx context.Context, request []byte, host, server string) (Result, error) {
	conn, err := c.config.NewConnFunc(ctx, server)
	if err != nil {
		return Result{}, fmt.Errorf(me+": acquire socket for %s: %w", server, err)
	}
	defer conn.Close()

	var lastErr error
	for attempt := 0; attempt < c.config.Retries; attempt++ {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if _, err := conn.Write(request); err != nil {
			lastErr = fmt.Errorf(me+": send to %s: %w", server, err)
			continue // Remember and retry
		}

		conn.SetReadDeadline(time.Now().Add(c.config.AttemptTimeout))
		respBuf := make([]byte, 512)
		n, err := conn.Read(respBuf)
		if err != nil {
			lastErr = fmt.Errorf(me+": recv from %s: %w", server, err)
			continue // Timeout or recv error: remember and retry
		}

		resp := new(dns.Msg)
		if err := resp.Unpack(respBuf[:n]); err != nil {
			return Result{}, fmt.Errorf(me+": parse response from %s: %w", server, err) // Stop, no retry
		}
		if resp.Rcode != dns.RcodeSuccess {
			return Result{}, fmt.Errorf(me+": response code %s from %s", dns.RcodeToString[resp.Rcode], server)
		}

		var addrs []net.IP
		var firstTTL uint32
		for _, rr := range resp.Answer {
			var ip net.IP
			switch r := rr.(type) {
			case *dns.A:
				ip = r.A
			case *dns.AAAA:
				ip = r.AAAA
			default:
				continue
			}
			if len(addrs) == 0 {
				firstTTL = rr.Header().Ttl
			}
			addrs = append(addrs, ip)
		}
		if len(addrs) == 0 {
			return Result{}, fmt.Errorf(me+": no A/AAAA records in response from %s", server) // Stop, no retry
		}

		ttl := time.Duration(firstTTL) * time.Second
		deadline := time.Now().Add(ttl)
		if deadline.Before(time.Now()) { // Overflow guard against a corrupt/huge TTL
			return Result{}, fmt.Errorf(me+": ttl overflow from %s", server)
		}

		return Result{Addrs: addrs, TTL: ttl, Deadline: deadline, Server: server}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf(me+": all attempts failed against %s", server)
	}

	return Result{}, lastErr
}
