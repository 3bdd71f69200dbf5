// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package passthru

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microsoft/dusseldorf/types"
	"go.uber.org/ratelimit"
)

const (
	// DefaultTimeout bounds an upstream call unless the rule overrides it.
	DefaultTimeout = 2000 * time.Millisecond

	// MaxTimeout is the largest override a rule may ask for; anything
	// beyond falls back to the default.
	MaxTimeout = 10000 * time.Millisecond

	// upstreamCallsPerSecond paces outbound traffic process-wide.
	upstreamCallsPerSecond = 50

	// maxUpstreamBody caps how much of an upstream reply is folded into
	// the response.
	maxUpstreamBody = 10 << 20

	xffHeader = "X-Forwarded-For"
)

// ErrUnsafeTarget is returned when the guard refuses the target host.
var ErrUnsafeTarget = errors.New("passthrough target resolves into a forbidden network")

// Options tunes a single upstream call.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	Subs               map[string]string
	AddXFF             bool
}

// Result is the upstream reply folded back into the evaluation context.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Safety classifies a target host before any outbound call. The Guard
// is the production implementation.
type Safety interface {
	IsSafe(ctx context.Context, host string) bool
}

// Client performs guarded upstream requests. Redirects are never
// followed; the upstream's own reply is what the tester wants to see.
type Client struct {
	guard    Safety
	secure   *http.Client
	insecure *http.Client
	rlimit   ratelimit.Limiter
	log      *slog.Logger
}

func NewClient(guard Safety, l *slog.Logger) *Client {
	if l == nil {
		l = slog.Default()
	}
	noRedirects := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		guard:  guard,
		secure: &http.Client{CheckRedirect: noRedirects},
		insecure: &http.Client{
			CheckRedirect: noRedirects,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		rlimit: ratelimit.New(upstreamCallsPerSecond, ratelimit.WithoutSlack),
		log:    l.WithGroup("passthru"),
	}
}

// Fetch replays the original request against the target authority and
// returns the upstream reply. The guard runs first; unsafe targets fail
// with ErrUnsafeTarget and the caller leaves its response untouched.
func (c *Client) Fetch(ctx context.Context, orig *types.HTTPRequest, target *url.URL, opts Options) (*Result, error) {
	if target == nil || target.Host == "" {
		return nil, errors.New("passthrough target has no host")
	}
	if !c.guard.IsSafe(ctx, target.Host) {
		return nil, ErrUnsafeTarget
	}

	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "http"
	}

	timeout := opts.Timeout
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := make(map[string]string, len(orig.Headers))
	for name, value := range orig.Headers {
		if strings.EqualFold(name, "Host") {
			continue
		}
		headers[name] = substitute(value, opts.Subs)
	}
	body := substitute(orig.Body, opts.Subs)

	if opts.AddXFF {
		if _, present := lookupHeader(headers, xffHeader); !present {
			headers[xffHeader] = orig.Remote
		}
	}

	outURL := scheme + "://" + target.Host + orig.Path
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(orig.Method), outURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Host = target.Host

	client := c.secure
	if opts.InsecureSkipVerify {
		client = c.insecure
	}

	c.rlimit.Take()
	c.log.Info("passthrough request", "target", target.Host, "path", orig.Path)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, err
	}

	result := &Result{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		Body:       string(raw),
	}
	for name, values := range resp.Header {
		result.Headers[name] = strings.Join(values, ", ")
	}

	c.log.Info("passthrough response", "target", target.Host,
		"status", resp.StatusCode, "bytes", len(result.Body))
	return result, nil
}

func substitute(s string, subs map[string]string) string {
	for from, to := range subs {
		if from != "" {
			s = strings.ReplaceAll(s, from, to)
		}
	}
	return s
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
