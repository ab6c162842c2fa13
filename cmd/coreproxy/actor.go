package main

import (
	"context"
	"net"

	"github.com/markdingo/trustyproxy/internal/outbound"
)

// directActor is the demo outbound connector: a named egress path with no protocol handshake of
// its own. Running more than one gives the health checker and failover dispatcher real, distinct
// routes to rank and choose between instead of a single unconditional path.
type directActor struct {
	tag string
}

func newDirectActor(tag string) *directActor {
	return &directActor{tag: tag}
}

func (a *directActor) Tag() string { return a.tag }

func (a *directActor) Stream() (outbound.StreamHandler, error) {
	return directHandler{}, nil
}

// directHandler does no protocol handshake of its own - ConnectStreamOutbound has already dialed
// the TCP connection by the time Handle is called, so this actor's only job is to pass it through.
type directHandler struct{}

func (h directHandler) Handle(ctx context.Context, sess *outbound.Session, conn net.Conn) (net.Conn, error) {
	return conn, nil
}
