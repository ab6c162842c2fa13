// listen for inbound DNS queries and forward them through the core resolver and failover dispatcher
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gops/agent"

	"github.com/markdingo/trustyproxy/internal/constants"
	"github.com/markdingo/trustyproxy/internal/dispatch"
	"github.com/markdingo/trustyproxy/internal/health"
	"github.com/markdingo/trustyproxy/internal/osutil"
	"github.com/markdingo/trustyproxy/internal/outbound"
	"github.com/markdingo/trustyproxy/internal/reporter"
	"github.com/markdingo/trustyproxy/internal/resolver"
	"github.com/markdingo/trustyproxy/internal/resolver/dohprobe"
	"github.com/markdingo/trustyproxy/internal/tlsutil"

	"golang.org/x/net/http2"
)

var (
	consts           = constants.Get()
	cfg              *config
	listenTransports []string

	stdout io.Writer
	stderr io.Writer

	startTime                = time.Now()
	mainStarted, mainStopped bool
	stopChannel              chan os.Signal
	flagSet                  *flag.FlagSet
)

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ProxyProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- os.Interrupt
}

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	listenTransports = nil
	stdout = out
	stderr = err
	mainStarted = false
	mainStopped = false
	stopChannel = make(chan os.Signal, 4)
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	if err := parseCommandLine(args); err != nil {
		return 1
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ProxyProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.udp {
		listenTransports = append(listenTransports, consts.DNSUDPTransport)
	}
	if cfg.tcp {
		listenTransports = append(listenTransports, consts.DNSTCPTransport)
	}
	if len(listenTransports) == 0 {
		return fatal("Must have one of -tcp or -udp set")
	}
	if cfg.servers.NArg() == 0 {
		return fatal("Require at least one -server. Consider -h")
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops:", err)
		}
		defer agent.Close()
	}

	// Build the resolver facade first, with its dispatcher handle left nil.

	resolverConfig := resolver.Config{
		Servers:        cfg.servers.Args(),
		EnableIPv6:     cfg.enableIPv6,
		PreferIPv6:     cfg.preferIPv6,
		AttemptTimeout: cfg.attemptTimeout,
	}
	if cfg.doh.NArg() > 0 {
		tlsConfig, err := tlsutil.NewClientTLSConfig(cfg.tlsUseSystemRootCAs, cfg.tlsCAFiles.Args(), "", "")
		if err != nil {
			return fatal(err)
		}
		tr := &http.Transport{TLSClientConfig: tlsConfig}
		if err := http2.ConfigureTransport(tr); err != nil {
			return fatal(err)
		}
		resolverConfig.DoH = dohprobe.Config{Providers: cfg.doh.Args()}
		resolverConfig.HTTPClient = &http.Client{Transport: tr, Timeout: cfg.attemptTimeout}
	}

	facade, err := resolver.New(resolverConfig)
	if err != nil {
		return fatal(err)
	}

	// Build the demo outbound actors, the health checker and the failover dispatcher, then
	// back-fill the facade's dispatcher handle.

	actors := []outbound.Actor{newDirectActor("primary")}
	for _, tag := range cfg.altSourceAddrs.Args() {
		actors = append(actors, newDirectActor(tag))
	}

	cfg.healthConfig.Failover = cfg.failover
	cfg.healthConfig.CheckInterval = cfg.checkInterval
	cfg.healthConfig.CheckTimeout = cfg.checkTimeout
	checker := health.New(actors, nil, facade, cfg.healthConfig)

	cfg.dispatchConfig.FallbackCacheSize = cfg.fallbackCacheSize
	dispatcher := dispatch.New(actors, nil, facade, checker, cfg.dispatchConfig)
	facade.SetDispatcher(dispatcher)

	if cfg.listenAddresses.NArg() == 0 {
		cfg.listenAddresses.Set("")
	}

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.ProxyProgramName, consts.Version, "Starting:", cfg.servers.Args())
	}

	reporters := []reporter.Reporter{facade, checker, dispatcher}
	var servers []*server

	errorChannel := make(chan error, cfg.listenAddresses.NArg()*len(listenTransports))
	wg := &sync.WaitGroup{}

	for _, addr := range cfg.listenAddresses.Args() {
		addr = addrWithDefaultPort(addr, consts.DNSDefaultPort)
		for _, transport := range listenTransports {
			s := &server{stdout: stdout, facade: facade, listenAddress: addr, transport: transport}
			s.start(errorChannel, wg)
			if cfg.verbose {
				fmt.Fprintln(stdout, "Starting", s.Name())
			}
			reporters = append(reporters, s)
			servers = append(servers, s)
		}
	}

	if err := osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir); err != nil {
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	mainStarted = true
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, reporters)
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running

		case err := <-errorChannel:
			return fatal(err)

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	for _, s := range servers {
		s.stop()
	}

	mainStopped = true
	wg.Wait()

	if cfg.verbose {
		statusReport("Status", true, reporters)
		fmt.Fprintln(stdout, consts.ProxyProgramName, consts.Version, "Exiting after", uptime())
	}

	return 0
}

func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

func uptime() string {
	return time.Since(startTime).Truncate(time.Second).String()
}

func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ProxyProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
