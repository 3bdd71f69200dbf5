// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package dnssrv is the public DNS responder of the data plane.
package dnssrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/microsoft/dusseldorf/config"
	"github.com/microsoft/dusseldorf/defaults"
	"github.com/microsoft/dusseldorf/fqdn"
	"github.com/microsoft/dusseldorf/recorder"
	"github.com/microsoft/dusseldorf/rules"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/types"
)

// countInterval controls how often the request counter is logged.
const countInterval = 1000

const queryTimeout = 5 * time.Second

// Server answers DNS queries for every registered domain: rule-driven
// answers inside zones, default answers elsewhere under a registered
// domain, NXDOMAIN everywhere else.
type Server struct {
	cfg      *config.Config
	store    store.Store
	engine   *rules.Engine
	defaults *defaults.Factory
	rec      *recorder.Recorder
	log      *slog.Logger
	udp      *dns.Server
	tcp      *dns.Server
	count    atomic.Uint64
}

func New(cfg *config.Config, s store.Store, e *rules.Engine, d *defaults.Factory, rec *recorder.Recorder, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    s,
		engine:   e,
		defaults: d,
		rec:      rec,
		log:      l.WithGroup("listener.dns"),
	}
}

// ListenAndServe binds the configured interface and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.DNSInterface, fmt.Sprintf("%d", s.cfg.DNSPort))

	if s.cfg.DNSPort < 1024 && os.Geteuid() != 0 {
		return fmt.Errorf("listening on port %d requires root privileges", s.cfg.DNSPort)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	errs := make(chan error, 2)

	s.tcp = &dns.Server{Addr: addr, Net: "tcp", Handler: mux, ReadTimeout: queryTimeout}
	go func() {
		errs <- s.tcp.ListenAndServe()
	}()

	if s.cfg.DNSUDP {
		s.udp = &dns.Server{Addr: addr, Net: "udp", Handler: mux, ReadTimeout: queryTimeout}
		go func() {
			errs <- s.udp.ListenAndServe()
		}()
	}

	s.log.Info("listening", "addr", addr, "udp", s.cfg.DNSUDP)
	return <-errs
}

// Shutdown stops both transports.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.udp != nil {
		err = s.udp.ShutdownContext(ctx)
	}
	if s.tcp != nil {
		if terr := s.tcp.ShutdownContext(ctx); terr != nil {
			err = terr
		}
	}
	return err
}

// handle resolves a single query and records the interaction after the
// reply is on the wire.
func (s *Server) handle(w dns.ResponseWriter, query *dns.Msg) {
	reply := new(dns.Msg)
	reply.SetReply(query)
	written := false
	defer func() {
		if !written {
			_ = w.WriteMsg(reply)
		}
	}()

	if len(query.Question) == 0 {
		reply.Rcode = dns.RcodeFormatError
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	q := query.Question[0]
	qtype := strings.ToUpper(dns.Type(q.Qtype).String())
	qname := strings.ToLower(q.Name)
	clientIP := remoteIP(w.RemoteAddr())

	if n := s.count.Add(1); n%countInterval == 0 {
		s.log.Info("dns.requests.count", "count", n)
	}

	// version.bind is answered statically, before any validation
	if qname == "version.bind." {
		reply.Answer = append(reply.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{"dusseldorf"},
		})
		return
	}

	reqFqdn, err := fqdn.Normalize(qname)
	if err != nil {
		s.log.Warn("invalid query name", "qname", qname, "err", err)
		reply.Rcode = dns.RcodeNameError
		return
	}

	domains, err := s.store.DomainNames(ctx)
	if err != nil {
		s.log.Error("domain list unavailable", "err", err)
		reply.Rcode = dns.RcodeNameError
		return
	}
	domain := fqdn.MatchDomain(reqFqdn, domains)
	if domain == "" {
		s.log.Warn("query outside registered domains", "fqdn", reqFqdn)
		reply.Rcode = dns.RcodeNameError
		return
	}

	// reserved names are answered from defaults, never from rules
	if reqFqdn == domain || reqFqdn == "ns1."+domain || reqFqdn == "ns2."+domain {
		s.reserved(ctx, reply, reqFqdn, domain, qtype, clientIP)
		return
	}

	zone, err := s.store.ZoneForFQDN(ctx, reqFqdn)
	if err != nil {
		s.log.Error("zone lookup failed", "fqdn", reqFqdn, "err", err)
		reply.Rcode = dns.RcodeNameError
		return
	}

	if zone == "" {
		// a registered domain without a zone still answers benignly
		req := types.NewDNSRequest(reqFqdn, "", domain, qtype, clientIP)
		resp := s.defaults.DNS(ctx, req)
		if rr := s.makeRR(resp); rr != nil {
			reply.Answer = append(reply.Answer, rr)
		} else {
			s.log.Warn("could not make RR", "qtype", qtype, "fqdn", reqFqdn)
			reply.Rcode = dns.RcodeNameError
		}
		return
	}

	start := time.Now()
	req := types.NewDNSRequest(reqFqdn, zone, domain, qtype, clientIP)

	resp, ok := s.engine.GetResponse(ctx, req).(*types.DNSResponse)
	if !ok || resp == nil {
		s.log.Error("no response for query", "qtype", qtype, "fqdn", reqFqdn)
		reply.Rcode = dns.RcodeNameError
		return
	}

	if rr := s.makeRR(resp); rr != nil {
		reply.Answer = append(reply.Answer, rr)
	} else {
		s.log.Warn("could not make RR", "qtype", qtype, "fqdn", reqFqdn)
		reply.Rcode = dns.RcodeNameError
		return
	}
	resolved := time.Since(start)

	_ = w.WriteMsg(reply)
	written = true

	s.rec.Record(req, resp)
	s.log.Debug("query resolved", "qtype", qtype, "fqdn", reqFqdn,
		"resolve", resolved.Seconds())
}

// reserved answers the apex and the ns1/ns2 names. Apex CAA queries gain
// the contactemail and iodef records.
func (s *Server) reserved(ctx context.Context, reply *dns.Msg, reqFqdn, domain, qtype, clientIP string) {
	req := types.NewDNSRequest(reqFqdn, "", domain, qtype, clientIP)
	resp := s.defaults.DNS(ctx, req)

	rr := s.makeRR(resp)
	if rr == nil {
		s.log.Warn("could not make RR for reserved name", "qtype", qtype, "fqdn", reqFqdn)
		reply.Rcode = dns.RcodeNameError
		return
	}
	reply.Answer = append(reply.Answer, rr)

	if qtype == "CAA" {
		contact := s.defaults.Contact(ctx, domain)
		for _, extra := range []*types.DNSResponse{
			{Type: "CAA", Name: reqFqdn, TTL: resp.TTL, Data: map[string]interface{}{
				"flags": 0, "tag": "contactemail", "value": contact,
			}},
			{Type: "CAA", Name: reqFqdn, TTL: resp.TTL, Data: map[string]interface{}{
				"flags": 0, "tag": "iodef", "value": "mailto:" + contact,
			}},
		} {
			if caa := s.makeRR(extra); caa != nil {
				reply.Answer = append(reply.Answer, caa)
			}
		}
	}
}

func remoteIP(addr net.Addr) string {
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
