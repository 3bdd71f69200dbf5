// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package httpsrv is the public HTTP/HTTPS responder of the data plane.
package httpsrv

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microsoft/dusseldorf/config"
	"github.com/microsoft/dusseldorf/fqdn"
	"github.com/microsoft/dusseldorf/recorder"
	"github.com/microsoft/dusseldorf/rules"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/types"
)

const (
	// maxContentLength caps request bodies at 10 MiB.
	maxContentLength = 10 << 20

	readTimeout = 5 * time.Second
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "OPTIONS": true, "HEAD": true,
}

// Server accepts arbitrary HTTP requests into registered zones and
// replies according to the zone's rules. Hosts outside the registered
// domains receive the empty response; the listener does not reveal what
// it serves.
type Server struct {
	cfg    *config.Config
	store  store.Store
	engine *rules.Engine
	rec    *recorder.Recorder
	log    *slog.Logger
	srv    *http.Server
}

func New(cfg *config.Config, s store.Store, e *rules.Engine, rec *recorder.Recorder, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}

	name := "listener.http"
	if cfg.HTTPTLS {
		name = "listener.https"
	}
	return &Server{
		cfg:    cfg,
		store:  s,
		engine: e,
		rec:    rec,
		log:    l.WithGroup(name),
	}
}

// ListenAndServe binds the configured interface and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.HTTPInterface, fmt.Sprintf("%d", s.cfg.HTTPPort))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(s.handle),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		MaxHeaderBytes:    64 << 10,
	}

	if !s.cfg.HTTPTLS {
		s.log.Info("listening", "addr", addr, "tls", false)
		return s.srv.ListenAndServe()
	}

	if err := s.cfg.ValidateTLS(); err != nil {
		return err
	}
	s.srv.TLSConfig = newTLSConfig()
	// empty cert paths here would have failed validation above
	s.log.Info("listening", "addr", addr, "tls", true)
	return s.srv.ListenAndServeTLS(s.cfg.TLSCrtFile, s.cfg.TLSKeyFile)
}

// Shutdown stops accepting and drains in-flight connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// handle validates, resolves and answers one request, then records it.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !allowedMethods[r.Method] {
		s.log.Warn("invalid method", "method", r.Method)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.RequestURI()
	if !strings.HasPrefix(path, "/") {
		s.log.Warn("invalid path", "path", path)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if r.ContentLength > maxContentLength {
		s.log.Warn("content length exceeds maximum", "length", r.ContentLength)
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxContentLength+1))
	if err != nil {
		s.log.Error("error reading body content", "err", err)
		raw = nil
	}
	if len(raw) > maxContentLength {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()

	host := r.Host
	if h, _, serr := net.SplitHostPort(host); serr == nil {
		host = h
	}
	reqFqdn, err := fqdn.Normalize(host)
	if err != nil {
		s.write(w, types.EmptyHTTPResponse())
		return
	}

	domains, err := s.store.DomainNames(ctx)
	if err != nil || fqdn.MatchDomain(reqFqdn, domains) == "" {
		// intentional silence: never reveal the domain list
		s.write(w, types.EmptyHTTPResponse())
		return
	}

	zone, err := s.store.ZoneForFQDN(ctx, reqFqdn)
	if err != nil || zone == "" {
		s.log.Info("zone not found for request", "fqdn", reqFqdn)
		s.write(w, types.EmptyHTTPResponse())
		return
	}

	var body, bodyB64 string
	if len(raw) > 0 {
		if utf8.Valid(raw) {
			body = string(raw)
		} else {
			bodyB64 = base64.StdEncoding.EncodeToString(raw)
		}
	}

	req := &types.HTTPRequest{
		Fqdn:    reqFqdn,
		Zone:    zone,
		Remote:  remoteIP(r.RemoteAddr),
		Method:  r.Method,
		Path:    path,
		Version: r.Proto,
		Headers: flatten(r.Header),
		Body:    body,
		BodyB64: bodyB64,
		TLS:     r.TLS != nil,
	}

	resp, ok := s.engine.GetResponse(ctx, req).(*types.HTTPResponse)
	if !ok || resp == nil {
		s.log.Warn("rule engine returned no http response, sending empty")
		resp = types.EmptyHTTPResponse()
	}
	s.write(w, resp)

	s.rec.Record(req, resp)
	s.log.Debug("request handled", "method", r.Method, "fqdn", reqFqdn,
		"status", resp.StatusCode, "total", time.Since(start).Seconds())
}

// write emits a response, always with a Content-Length matching the
// final body and nothing the rule did not ask for.
func (s *Server) write(w http.ResponseWriter, resp *types.HTTPResponse) {
	code := resp.StatusCode
	if code < 100 || code > 599 {
		s.log.Warn("invalid status code, sending default", "code", code)
		code = http.StatusOK
	}

	hdr := w.Header()
	hdr["Date"] = nil
	contentType := false
	for name, value := range resp.Headers {
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		if strings.EqualFold(name, "Content-Type") {
			contentType = true
		}
		hdr.Set(name, value)
	}
	if !contentType {
		hdr["Content-Type"] = nil
	}
	hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(code)
	if len(resp.Body) > 0 {
		_, _ = io.WriteString(w, resp.Body)
	}
}

// flatten folds a multi-valued header map into the single-valued form
// the rule catalogue operates on.
func flatten(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for name, values := range h {
		headers[name] = strings.Join(values, ", ")
	}
	return headers
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// newTLSConfig restricts the listener to TLS 1.2/1.3 with modern cipher
// suites. Go's server never compresses and rejects client-initiated
// renegotiation.
func newTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
	}
}
