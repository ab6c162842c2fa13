package main

import (
	"time"

	"github.com/markdingo/trustyproxy/internal/dispatch"
	"github.com/markdingo/trustyproxy/internal/flagutil"
	"github.com/markdingo/trustyproxy/internal/health"
)

type config struct {
	help    bool
	version bool
	verbose bool
	gops    bool

	udp bool
	tcp bool

	listenAddresses flagutil.StringValue

	servers flagutil.StringValue
	doh     flagutil.StringValue

	enableIPv6 bool
	preferIPv6 bool

	altSourceAddrs flagutil.StringValue // One extra outbound actor per -alt-source tag

	attemptTimeout time.Duration
	statusInterval time.Duration

	failover          bool
	checkInterval     time.Duration
	checkTimeout      time.Duration
	fallbackCacheSize int

	tlsUseSystemRootCAs bool
	tlsCAFiles          flagutil.StringValue

	setuidName, setgidName, chrootDir string

	healthConfig   health.Config
	dispatchConfig dispatch.Config
}
