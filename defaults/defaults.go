// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package defaults builds the fallback response for every request the
// rule engine has no matching rule for.
package defaults

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/microsoft/dusseldorf/cache"
	"github.com/microsoft/dusseldorf/config"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/types"
)

const memoTTL = 300 * time.Second

// fallbackIPs answers A queries when a domain has no public IP pool yet.
var fallbackIPs = []string{"127.0.0.8", "127.0.0.9"}

// Factory produces protocol-appropriate default responses. Lookups into
// the store are memoised so IP pool changes still propagate.
type Factory struct {
	store store.Store
	cfg   *config.Config
	memo  *cache.TTLCache
	log   *slog.Logger
}

func New(s store.Store, cfg *config.Config, l *slog.Logger) *Factory {
	if l == nil {
		l = slog.Default()
	}
	return &Factory{
		store: s,
		cfg:   cfg,
		memo:  cache.New(memoTTL),
		log:   l.WithGroup("defaults"),
	}
}

// ForRequest returns the default response for any request variant.
func (f *Factory) ForRequest(ctx context.Context, req types.Request) types.Response {
	switch r := req.(type) {
	case *types.DNSRequest:
		return f.DNS(ctx, r)
	case *types.HTTPRequest:
		return types.EmptyHTTPResponse()
	}
	return types.EmptyHTTPResponse()
}

// DNS builds the default answer for a query by qtype.
func (f *Factory) DNS(ctx context.Context, req *types.DNSRequest) *types.DNSResponse {
	resp := types.NewDNSResponse(req.QType, req.Fqdn)
	resp.TTL = req.TTL
	resp.Data = f.Data(ctx, req.QType, req.Domain)
	return resp
}

// Data returns the default rdata for a qtype under the given domain.
func (f *Factory) Data(ctx context.Context, qtype, domain string) map[string]interface{} {
	switch strings.ToUpper(qtype) {
	case "A":
		return map[string]interface{}{"ip": f.publicIP(ctx, domain)}
	case "AAAA":
		return map[string]interface{}{"ip": f.ipv6()}
	case "CNAME":
		return map[string]interface{}{"cname": "cname." + f.domain(ctx, domain) + "."}
	case "MX":
		return map[string]interface{}{"name": "mail." + f.domain(ctx, domain), "priority": 10}
	case "NS":
		return map[string]interface{}{"ns": f.publicIP(ctx, domain)}
	case "CAA":
		return map[string]interface{}{"flags": 0, "tag": "issue", "value": f.cfg.CAIssuer}
	case "SOA":
		return f.SOA(ctx, domain)
	case "TXT":
		return map[string]interface{}{"txt": "txt"}
	}
	return map[string]interface{}{}
}

// SOA returns the default SOA rdata. The serial is deployment-chosen and
// stable; the remaining timers are fixed.
func (f *Factory) SOA(ctx context.Context, domain string) map[string]interface{} {
	return map[string]interface{}{
		"mname": f.publicIP(ctx, domain),
		"rname": strings.ReplaceAll(f.Contact(ctx, domain), "@", "."),
		"times": []uint32{f.cfg.SOASerial, 7200, 10800, 259200, 3600},
	}
}

// Contact returns the operator contact address for the domain.
func (f *Factory) Contact(ctx context.Context, domain string) string {
	if f.cfg.Contact != "" {
		return f.cfg.Contact
	}
	return "info@" + f.domain(ctx, domain)
}

// publicIP picks a random address from the domain's IPv4 pool.
func (f *Factory) publicIP(ctx context.Context, domain string) string {
	ips := f.publicIPs(ctx, domain)
	return ips[rand.Intn(len(ips))]
}

func (f *Factory) publicIPs(ctx context.Context, domain string) []string {
	key := "ips:" + domain
	if v, ok := f.memo.Get(key); ok {
		return v.([]string)
	}

	ips, err := f.store.PublicIPs(ctx, domain)
	if err != nil {
		f.log.Warn("failed to read public IP pool", "domain", domain, "err", err)
		return fallbackIPs
	}
	if len(ips) == 0 {
		ips = fallbackIPs
	}

	f.memo.Set(key, ips)
	return ips
}

// ipv6 picks a random address from the deployment pool, or "::".
func (f *Factory) ipv6() string {
	pool := f.cfg.IPv6Addrs()
	if len(pool) == 0 {
		return "::"
	}
	return pool[rand.Intn(len(pool))]
}

// domain resolves the effective domain: the request's own when known,
// otherwise the first registered one.
func (f *Factory) domain(ctx context.Context, domain string) string {
	if domain != "" {
		return domain
	}

	if v, ok := f.memo.Get("domain:first"); ok {
		return v.(string)
	}
	names, err := f.store.DomainNames(ctx)
	if err != nil || len(names) == 0 {
		return "invalid"
	}

	f.memo.Set("domain:first", names[0])
	return names[0]
}
