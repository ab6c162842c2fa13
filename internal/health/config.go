package health

import "time"

// Config parameterises a Checker. Grounded on the new() arguments of the original failover
// handler: health_check_timeout, health_check_delay, health_check_addr, health_check_content,
// check_interval and the failover on/off switch.
type Config struct {
	Failover bool // If false, the published schedule ever contains only the single best actor.

	CheckInterval time.Duration // Sleep between probe cycles.
	CheckTimeout  time.Duration // Bound on a single probe, including connect/handshake/write/read.
	ProbeDelayMax time.Duration // Each actor's probe is delayed by a uniform random value in [0, this].

	HealthCheckAddr    string // host:port the probe connects to. Default "www.google.com:80".
	HealthCheckContent string // Bytes written once connected. Default "HEAD / HTTP/1.1\r\n\r\n".
}

var (
	DefaultCheckInterval      = 60 * time.Second
	DefaultCheckTimeout       = 5 * time.Second
	DefaultProbeDelayMax      = 250 * time.Millisecond
	DefaultHealthCheckAddr    = "www.google.com:80"
	DefaultHealthCheckContent = "HEAD / HTTP/1.1\r\n\r\n"
)

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.ProbeDelayMax < 0 {
		c.ProbeDelayMax = DefaultProbeDelayMax
	}
	if c.HealthCheckAddr == "" {
		c.HealthCheckAddr = DefaultHealthCheckAddr
	}
	if c.HealthCheckContent == "" {
		c.HealthCheckContent = DefaultHealthCheckContent
	}

	return c
}
