package udpdns

import (
	"context"
	"time"
)

// Config is passed to New(). Servers must be non-empty - construction fails otherwise.
type Config struct {
	Servers []string // host:port, port defaults to 53 if omitted

	Retries        int           // Attempts per server per query. Default 2.
	AttemptTimeout time.Duration // Per-attempt receive timeout. Default 2s.

	// NewConnFunc lets a caller substitute how a per-server datagram socket is acquired -
	// either a freshly bound local UDP socket (direct mode, the default) or one dispatched
	// through an external collaborator (indirect mode). Exists so the resolver facade can
	// route DNS traffic itself through the failover dispatcher.
	NewConnFunc func(ctx context.Context, server string) (Conn, error)
}

var (
	DefaultRetries        = 2
	DefaultAttemptTimeout = 2 * time.Second
)
