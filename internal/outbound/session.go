// Package outbound defines the contracts shared between the failover dispatcher and whatever
// concrete outbound connectors (direct dial, proxied protocols, ...) are wired in by the caller.
// The core never implements an actor itself - it only ever holds the interfaces here.
package outbound

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// Destination is either a literal IP or a domain name, both carrying a port. It is the unit a
// Session is routed to and the key used by the dispatcher's fallback cache.
type Destination struct {
	IP     net.IP // Non-nil if this destination is a literal address
	Domain string // Non-empty if this destination is a domain name
	Port   int
}

// String renders the destination in the canonical form used as a fallback-cache key.
func (d Destination) String() string {
	host := d.Domain
	if d.IP != nil {
		host = d.IP.String()
	}

	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// IsLiteral reports whether this destination is already a literal IP address.
func (d Destination) IsLiteral() bool {
	return d.IP != nil
}

// Session is supplied by inbound collaborators. NewConnOnce is a hint used by the health checker
// to bypass any connection reuse the actor might otherwise apply.
type Session struct {
	Destination Destination
	NewConnOnce bool
}

// StreamHandler is returned by an Actor and does whatever protocol-specific handshake is needed
// over a raw connection before application data can flow.
type StreamHandler interface {
	Handle(ctx context.Context, sess *Session, conn net.Conn) (net.Conn, error)
}

// Actor is an opaque outbound handler identified by a tag. The core never inspects what an actor
// actually does - it only calls Tag() for diagnostics and Stream() to obtain a handler.
type Actor interface {
	Tag() string
	Stream() (StreamHandler, error)
}

// Resolver is the contract outbound connectors use to turn a Session's destination into
// addresses: Lookup for the regular path, DirectLookup for resolution that must bypass the
// dispatcher (to avoid a lookup-through-proxy cycle), and OptimizeCache to feed connectivity
// outcomes back into the cache's address ordering.
type Resolver interface {
	Lookup(ctx context.Context, host string) ([]net.IP, error)
	DirectLookup(ctx context.Context, host string) ([]net.IP, error)
	OptimizeCache(host string, addr net.IP)
}

// ErrNoDispatcher is returned by a resolver's indirect-dispatch path when the dispatcher
// back-reference has not yet been filled in. It is recoverable, not a programming error: the
// construction order mandated by the design is resolver first (handle empty), then dispatcher,
// then back-fill, so there is a legitimate window where the handle is nil.
var ErrNoDispatcher = errors.New("outbound: no dispatcher bound to resolver yet")

// Dispatcher is the narrow slice of the failover dispatcher that a resolver needs in order to
// route a DNS datagram indirectly, through the proxy's own outbound graph, rather than via a
// freshly bound local socket. Implemented by internal/dispatch.Dispatcher.
type Dispatcher interface {
	DialUDP(ctx context.Context, sess *Session) (net.Conn, error)
}

// ConnectStreamOutbound resolves sess.Destination via resolver (DirectLookup for a literal-free
// domain, or the literal itself) and dials the result through actor. It is a thin seam: the core
// only needs the signature, a concrete outbound package supplies the actual protocol dial inside
// the StreamHandler it returns from Stream().
func ConnectStreamOutbound(ctx context.Context, sess *Session, resolver Resolver, actor Actor) (net.Conn, error) {
	var ip net.IP
	if sess.Destination.IsLiteral() {
		ip = sess.Destination.IP
	} else {
		ips, err := resolver.DirectLookup(ctx, sess.Destination.Domain)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, errors.New("outbound: DirectLookup returned no addresses for " + sess.Destination.Domain)
		}
		ip = ips[0]
	}

	handler, err := actor.Stream()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(sess.Destination.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	out, err := handler.Handle(ctx, sess, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sess.Destination.IsLiteral() {
		resolver.OptimizeCache(sess.Destination.IP.String(), ip)
	} else {
		resolver.OptimizeCache(sess.Destination.Domain, ip)
	}

	return out, nil
}
