// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/microsoft/dusseldorf/passthru"
	"github.com/microsoft/dusseldorf/types"
)

// Passthrough is the outbound collaborator the passthru results call.
// Injecting it keeps the engine unit-testable without network access.
type Passthrough interface {
	Fetch(ctx context.Context, orig *types.HTTPRequest, target *url.URL, opts passthru.Options) (*passthru.Result, error)
}

// RegisterPassthru installs the http.passthru and http.passthru2 result
// actions backed by the given outbound client.
func RegisterPassthru(r *Registry, pt Passthrough) {
	_ = r.RegisterResult("http.passthru", passthruResult(pt))
	_ = r.RegisterResult("http.passthru2", passthru2Result(pt))
}

// fold copies an upstream reply into the response under evaluation.
func fold(ev *Context, res *passthru.Result) {
	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return
	}
	resp.StatusCode = res.StatusCode
	resp.Headers = res.Headers
	resp.Body = res.Body
}

// passthruResult proxies the original request to the parameter URL. An
// unsafe or unparsable target leaves the response untouched.
func passthruResult(pt Passthrough) ResultFunc {
	return func(ctx context.Context, ev *Context, param string) error {
		orig, ok := ev.Request.(*types.HTTPRequest)
		if !ok {
			return nil
		}

		target, err := url.Parse(param)
		if err != nil || target.Host == "" {
			// a non-URL parameter is a no-op
			return nil
		}

		res, err := pt.Fetch(ctx, orig, target, passthru.Options{})
		if err != nil {
			// unsafe or failed upstream leaves the response untouched
			return err
		}

		fold(ev, res)
		return nil
	}
}

// passthru2Config is the JSON parameter of the rewriting proxy action.
type passthru2Config struct {
	URL          string            `json:"url"`
	SkipTLSCheck bool              `json:"skip_tls_check"`
	TimeoutInMS  int               `json:"timeout_in_ms"`
	SkipXFF      bool              `json:"skip_xff"`
	Subs         map[string]string `json:"subs"`
}

// passthru2Result proxies with substring rewriting over the outbound
// headers and body, and adds X-Forwarded-For unless disabled.
func passthru2Result(pt Passthrough) ResultFunc {
	return func(ctx context.Context, ev *Context, param string) error {
		orig, ok := ev.Request.(*types.HTTPRequest)
		if !ok {
			return nil
		}

		var cfg passthru2Config
		if err := json.Unmarshal([]byte(param), &cfg); err != nil {
			return err
		}

		target, err := url.Parse(cfg.URL)
		if err != nil || target.Host == "" {
			return nil
		}

		res, err := pt.Fetch(ctx, orig, target, passthru.Options{
			Timeout:            time.Duration(cfg.TimeoutInMS) * time.Millisecond,
			InsecureSkipVerify: cfg.SkipTLSCheck,
			Subs:               cfg.Subs,
			AddXFF:             !cfg.SkipXFF,
		})
		if err != nil {
			return err
		}

		fold(ev, res)
		return nil
	}
}
