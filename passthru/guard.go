// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package passthru performs outbound HTTP calls on behalf of the rule
// engine, guarded against requests into private or metadata networks.
package passthru

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// forbiddenNetworks lists every network a passthrough target must never
// resolve into.
var forbiddenNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),      // loopback
	netip.MustParsePrefix("10.0.0.0/8"),       // rfc 1918
	netip.MustParsePrefix("172.16.0.0/12"),    // rfc 1918
	netip.MustParsePrefix("192.168.0.0/16"),   // rfc 1918
	netip.MustParsePrefix("169.254.0.0/16"),   // rfc 3927
	netip.MustParsePrefix("168.63.129.16/32"), // Azure gateway
	netip.MustParsePrefix("::1/128"),          // IPv6 loopback
	netip.MustParsePrefix("fc00::/7"),         // unique local
	netip.MustParsePrefix("fe80::/10"),        // link local
}

const resolveTimeout = 2 * time.Second

// Guard classifies passthrough targets. It must observe the same
// addresses the outbound dialer will use, so it asks the system resolver.
type Guard struct {
	resolver *net.Resolver
	log      *slog.Logger
}

func NewGuard(l *slog.Logger) *Guard {
	if l == nil {
		l = slog.Default()
	}
	return &Guard{
		resolver: net.DefaultResolver,
		log:      l.WithGroup("ssrfguard"),
	}
}

// IsSafe resolves the host to all of its addresses and reports whether
// every one of them stays outside the forbidden set. Resolution failures
// are unsafe.
func (g *Guard) IsSafe(ctx context.Context, host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return false
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return !forbidden(ip)
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		g.log.Warn("could not resolve passthrough target", "host", host, "err", err)
		return false
	}
	for _, ip := range addrs {
		if forbidden(ip) {
			return false
		}
	}
	return true
}

func forbidden(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, network := range forbiddenNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
