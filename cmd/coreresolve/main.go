// Issue lookups against the core resolver, exactly as the proxy would internally.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/markdingo/trustyproxy/internal/constants"
	"github.com/markdingo/trustyproxy/internal/outbound"
	"github.com/markdingo/trustyproxy/internal/resolver"
	"github.com/markdingo/trustyproxy/internal/resolver/dohprobe"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ResolveProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	if err := parseCommandLine(args); err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ResolveProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.repeatCount < 0 {
		return fatal("Repeat count (-r) must be GE zero, not", cfg.repeatCount)
	}
	if cfg.servers.NArg() == 0 {
		return fatal("Require at least one -server. Consider -h")
	}
	if flagSet.NArg() != 1 {
		return fatal("Require exactly one hostname argument. Consider -h")
	}
	host := flagSet.Arg(0)

	resolverConfig := resolver.Config{
		Servers:        cfg.servers.Args(),
		EnableIPv6:     cfg.enableIPv6,
		PreferIPv6:     cfg.preferIPv6,
		AttemptTimeout: cfg.attemptTimeout,
	}
	if cfg.doh.NArg() > 0 {
		resolverConfig.DoH = dohprobe.Config{Providers: cfg.doh.Args()}
		resolverConfig.HTTPClient = http.DefaultClient
	}

	facade, err := resolver.New(resolverConfig)
	if err != nil {
		return fatal(err)
	}
	facade.SetDispatcher(udpDialer{})

	for qx := 0; qx < cfg.repeatCount; qx++ {
		doLookup(facade, host, cfg.direct, cfg.short)
	}
	fmt.Fprintln(stdout, facade.Report(false))

	return 0
}

func doLookup(facade *resolver.Facade, host string, direct, short bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	var addrs []net.IP
	var err error
	if direct {
		addrs, err = facade.DirectLookup(ctx, host)
	} else {
		addrs, err = facade.Lookup(ctx, host)
	}
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return
	}

	if short {
		for _, a := range addrs {
			fmt.Fprintln(stdout, a.String())
		}
		return
	}

	fmt.Fprintf(stdout, ";; ANSWER for %s:\n", host)
	for _, a := range addrs {
		fmt.Fprintln(stdout, a.String())
	}
	fmt.Fprintf(stdout, ";; Query Time: %s\n\n", elapsed.Truncate(time.Millisecond))
}

// udpDialer is the outbound.Dispatcher this standalone driver binds to the facade. There are no
// outbound actors here, so each upstream DNS server is dialed directly over UDP.
type udpDialer struct{}

func (udpDialer) DialUDP(ctx context.Context, sess *outbound.Session) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "udp", sess.Destination.String())
}
