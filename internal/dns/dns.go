package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// publicDNS are queried when the system resolver fails. Captive portals and
// broken VPN split-DNS setups are the usual culprits on classroom networks.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
}

const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	ip      string
	expires time.Time
}

var (
	cacheMu sync.Mutex
	cache   = map[string]cacheEntry{}
)

// Lookup resolves a hostname, trying the system resolver first and racing
// public DNS servers on failure. Results are cached briefly so a channel
// reconnecting under backoff does not re-resolve the same host every
// attempt.
func Lookup(address string) (string, error) {
	cacheMu.Lock()
	if entry, ok := cache[address]; ok && time.Now().Before(entry.expires) {
		cacheMu.Unlock()
		return entry.ip, nil
	}
	cacheMu.Unlock()

	ip, err := systemLookup(address)
	if err != nil {
		ip, err = raceLookup(address)
	}
	if err != nil {
		return "", err
	}

	cacheMu.Lock()
	cache[address] = cacheEntry{ip: ip, expires: time.Now().Add(cacheTTL)}
	cacheMu.Unlock()
	return ip, nil
}

func systemLookup(address string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	ips, err := (&net.Resolver{}).LookupHost(ctx, address)
	if err != nil {
		return "", err
	}
	return pickIPv4(ips)
}

// raceLookup queries every public server at once and takes the first hit.
func raceLookup(address string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	results := make(chan result, len(publicDNS))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, server := range publicDNS {
		go func(server string) {
			ip, err := queryServer(ctx, address, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil && res.ip != "" {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("public DNS race timed out resolving %s", address)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", address, failures)
}

func queryServer(ctx context.Context, address, server string) (string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := new(net.Dialer)
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}

	ips, err := r.LookupHost(ctx, address)
	if err != nil {
		return "", err
	}
	return pickIPv4(ips)
}

// pickIPv4 prefers an IPv4 answer, falling back to whatever came first.
func pickIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
