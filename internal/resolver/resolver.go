// Package resolver implements address resolution as a pure function from a
// user-entered string to an ordered list of IP candidates, using only the
// standard net package.
package resolver

import (
	"context"
	"net"
	"time"
)

// Result is the outcome of resolving a user-entered address.
type Result struct {
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
}

const lookupTimeout = 5 * time.Second

// Resolve turns a literal IP or DNS name into an ordered list of candidate
// IPs. Errors are captured as text on the Result, never returned/raised.
func Resolve(address string) Result {
	if ip := net.ParseIP(address); ip != nil {
		return Result{Hostname: address, IPs: []string{ip.String()}, Success: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	var resolver net.Resolver
	addrs, err := resolver.LookupHost(ctx, address)
	if err != nil {
		return Result{Hostname: address, Success: false, Error: err.Error()}
	}
	if len(addrs) == 0 {
		return Result{Hostname: address, Success: false, Error: "no addresses returned"}
	}
	return Result{Hostname: address, IPs: addrs, Success: true}
}
