package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/markdingo/trustyproxy/internal/health"
	"github.com/markdingo/trustyproxy/internal/resolver/udpdns"
)

const usageMessageTemplate = `
NAME
          {{.ProxyProgramName}} -- forward DNS queries through the core resolver and failover dispatcher

SYNOPSIS
          {{.ProxyProgramName}} [options] -server host:port [-server host:port]...

DESCRIPTION
          {{.ProxyProgramName}} listens for ordinary DNS queries on UDP and/or TCP and answers
          them using the core resolver: cache, static hosts and a parallel A/AAAA fan-out across
          every configured -server. Those upstream queries go out through the failover
          dispatcher's UDP path, which dials each server directly. The health-checked, ranked set
          of outbound actors ("primary" plus one per -alt-source) is used for stream connections
          only; with -failover every actor, not just the best, enters the schedule. -doh
          providers are consulted only by direct lookups, which answering a query does not issue.

          **********
          Production Use Alert: {{.ProxyProgramName}} is a demonstration program which will
          almost certainly change with each new package release. Please do not rely on its
          current behaviour or output format.
          **********

EXAMPLES
            $ {{.ProxyProgramName}} -server 1.1.1.1:53 -server 8.8.8.8:53 -listen 127.0.0.1:5353

            $ {{.ProxyProgramName}} -server 9.9.9.9:53 -failover -alt-source eth1 -verbose

OPTIONS
          [-h] [-version] [-verbose] [-gops]

          [-server host:port]... (repeatable, at least one required)
          [-doh provider-url]... (repeatable)
          [-listen address]... (repeatable, default wildcard)

          [-udp] [-tcp] (default both)
          [-6] [-prefer-ipv6]

          [-failover] [-alt-source tag]... (repeatable, adds outbound actors)
          [-check-interval duration] [-check-timeout duration]
          [-fallback-cache-size count]

          [-t per-attempt timeout] [-status-interval duration]

          [-setuid user] [-setgid group] [-chroot dir]
`

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err)
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err)
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flagSet.BoolVar(&cfg.verbose, "verbose", false, "Print startup and periodic status reports")
	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")

	flagSet.Var(&cfg.listenAddresses, "listen", "Listen `address`; repeatable, default wildcard")
	flagSet.Var(&cfg.servers, "server", "Upstream DNS `server` (host:port); repeatable, at least one required")
	flagSet.Var(&cfg.doh, "doh", "DoH provider `URL`; repeatable")

	flagSet.BoolVar(&cfg.udp, "udp", true, "Listen on UDP")
	flagSet.BoolVar(&cfg.tcp, "tcp", true, "Listen on TCP")

	flagSet.BoolVar(&cfg.enableIPv6, "6", false, "Enable AAAA queries and the v6 cache")
	flagSet.BoolVar(&cfg.preferIPv6, "prefer-ipv6", false, "Prefer v6 addresses ahead of v4 in results")

	flagSet.BoolVar(&cfg.failover, "failover", false, "Rank all outbound actors instead of using only the best")
	flagSet.Var(&cfg.altSourceAddrs, "alt-source", "`tag` for an additional outbound actor; repeatable")
	flagSet.DurationVar(&cfg.checkInterval, "check-interval", health.DefaultCheckInterval, "Health-check `interval`")
	flagSet.DurationVar(&cfg.checkTimeout, "check-timeout", health.DefaultCheckTimeout, "Health-check per-probe `timeout`")
	flagSet.IntVar(&cfg.fallbackCacheSize, "fallback-cache-size", 256, "Fallback-cache `entries`; 0 disables it")

	flagSet.DurationVar(&cfg.attemptTimeout, "t", udpdns.DefaultAttemptTimeout, "Per-attempt UDP `timeout`")
	flagSet.DurationVar(&cfg.statusInterval, "status-interval", 5*time.Minute, "Status report `interval`")

	flagSet.BoolVar(&cfg.tlsUseSystemRootCAs, "tls-system-roots", true, "Verify DoH servers against system root CAs")
	flagSet.Var(&cfg.tlsCAFiles, "tls-ca-file", "Additional CA `file` to verify DoH servers; repeatable")

	flagSet.StringVar(&cfg.setuidName, "setuid", "", "Downgrade to this `user` after binding listen sockets")
	flagSet.StringVar(&cfg.setgidName, "setgid", "", "Downgrade to this `group` after binding listen sockets")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "Chroot to this `directory` after binding listen sockets")

	return flagSet.Parse(args[1:])
}
