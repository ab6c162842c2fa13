package main

import (
	"time"

	"github.com/markdingo/trustyproxy/internal/flagutil"
)

type config struct {
	help    bool
	version bool
	direct  bool
	short   bool

	enableIPv6 bool
	preferIPv6 bool

	repeatCount    int
	attemptTimeout time.Duration

	servers flagutil.StringValue // Repeatable -server flags, at least one required
	doh     flagutil.StringValue // Repeatable -doh flags, optional
}
