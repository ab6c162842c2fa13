/*
Package constants provides common values used across all trustyproxy packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ProxyProgramName, "version", consts.Version)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants
type Constants struct {
	ResolveProgramName string
	ProxyProgramName   string // Package related constants
	Version            string
	PackageName        string
	PackageURL         string

	AcceptHeader  string // Place in every DoH probe request
	DNSJSONAccept string // value of AcceptHeader for the DNS-JSON probe format

	DNSDefaultPort string // DNS related constants

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ResolveProgramName: "coreresolve",
		ProxyProgramName:   "coreproxy",
		Version:            "v0.1.0",
		PackageName:        "Core Forwarding Proxy",
		PackageURL:         "https://github.com/markdingo/trustyproxy",

		AcceptHeader:  "Accept",
		DNSJSONAccept: "application/dns-json",

		DNSDefaultPort: "53",

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
