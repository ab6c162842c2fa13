package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ResolveProgramName}} -- a standalone driver for the core resolver

SYNOPSIS
          {{.ResolveProgramName}} [options] hostname

DESCRIPTION
          {{.ResolveProgramName}} resolves hostname through the same cache, static-hosts, DoH-probe
          and UDP fan-out logic {{.ProxyProgramName}} uses internally. It exists to exercise and
          diagnose the resolver in isolation, the same way trustydns-dig exercised the original
          DoH client.

          **********
          Production Use Alert: {{.ResolveProgramName}} is a diagnostic program which will almost
          certainly change with each new package release. Please do not rely on its current
          behaviour or output format and definitely do not use it in a shell script.
          **********

EXAMPLES
            $ {{.ResolveProgramName}} -server 1.1.1.1:53 -server 8.8.8.8:53 example.com

            $ {{.ResolveProgramName}} -server 9.9.9.9:53 -6 -prefer-ipv6 example.com

            $ {{.ResolveProgramName}} -server 9.9.9.9:53 -doh https://cloudflare-dns.com -direct example.com

OPTIONS
          [-h] [-version] [-short] [-direct]

          [-server host:port]... (repeatable, at least one required)
          [-doh provider-url]... (repeatable)

          [-6] [-prefer-ipv6]
          [-r repeat count] [-t per-attempt timeout]
`

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flagSet.BoolVar(&cfg.short, "short", false, "Print addresses only, one per line")
	flagSet.BoolVar(&cfg.direct, "direct", false, "Resolve via DirectLookup (bypasses the dispatcher, enables DoH)")

	flagSet.Var(&cfg.servers, "server", "Authoritative DNS `server` (host:port); repeatable, at least one required")
	flagSet.Var(&cfg.doh, "doh", "DoH provider `URL`; repeatable, only consulted with -direct")

	flagSet.BoolVar(&cfg.enableIPv6, "6", false, "Enable AAAA queries and the v6 cache")
	flagSet.BoolVar(&cfg.preferIPv6, "prefer-ipv6", false, "Prefer v6 addresses ahead of v4 in results")

	flagSet.IntVar(&cfg.repeatCount, "r", 1, "`Number` of times to issue the query (GE zero)")
	flagSet.DurationVar(&cfg.attemptTimeout, "t", 2*time.Second, "Per-attempt UDP `timeout`")

	return flagSet.Parse(args[1:])
}
