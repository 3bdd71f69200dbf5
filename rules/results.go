// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/microsoft/dusseldorf/types"
)

// dnsTypeResult overrides the answer rtype.
func dnsTypeResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.DNSResponse)
	if !ok {
		return nil
	}
	resp.Type = strings.ToUpper(strings.TrimSpace(param))
	return nil
}

// dnsDataResult replaces the answer rdata with the JSON parameter.
func dnsDataResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.DNSResponse)
	if !ok {
		return nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(param), &data); err != nil {
		return err
	}
	resp.Data = data
	return nil
}

// dnsTTLResult sets the answer TTL.
func dnsTTLResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.DNSResponse)
	if !ok {
		return nil
	}

	ttl, err := strconv.ParseUint(strings.TrimSpace(param), 10, 32)
	if err != nil {
		return err
	}
	resp.TTL = uint32(ttl)
	return nil
}

// httpCodeResult sets the response status code.
func httpCodeResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return nil
	}

	code, err := strconv.Atoi(strings.TrimSpace(param))
	if err != nil {
		return err
	}
	resp.StatusCode = code
	return nil
}

// httpBodyResult sets the response body.
func httpBodyResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return nil
	}
	resp.Body = param
	return nil
}

// httpHeaderResult adds or replaces a single header. The parameter is
// "Name: value".
func httpHeaderResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return nil
	}

	name, value, found := strings.Cut(param, ":")
	if !found {
		return fmt.Errorf("http.header parameter %q is not Name: value", param)
	}
	resp.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

// httpHeadersResult replaces the full header map with the JSON parameter.
func httpHeadersResult(_ context.Context, ev *Context, param string) error {
	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return nil
	}

	var headers map[string]string
	if err := json.Unmarshal([]byte(param), &headers); err != nil {
		return err
	}
	resp.Headers = headers
	return nil
}

// varResult substitutes a substring across the response body and header
// values. The parameter is "from:to"; the right side understands the
// uuid() and zone() value functions. The engine defers these actions to
// the end of the rule.
func varResult(_ context.Context, ev *Context, param string) error {
	from, to, found := strings.Cut(param, ":")
	if !found || strings.TrimSpace(from) == "" {
		return nil
	}

	switch to {
	case "uuid()":
		to = uuid.New().String()
	case "zone()":
		to = ev.Zone
	}

	resp, ok := ev.Response.(*types.HTTPResponse)
	if !ok {
		return nil
	}

	resp.Body = strings.ReplaceAll(resp.Body, from, to)
	for name, value := range resp.Headers {
		if strings.Contains(value, from) {
			resp.Headers[name] = strings.ReplaceAll(value, from, to)
		}
	}
	return nil
}

// randomConfig is the parameter shape of the random result.
type randomConfig struct {
	Results []struct {
		Type      string `json:"type"`
		Parameter string `json:"parameter"`
	} `json:"results"`
	Weights []float64 `json:"weights"`
}

// randomResult samples one sub-result from a weighted distribution and
// applies it through the same catalogue as top-level actions.
func randomResult(reg *Registry) ResultFunc {
	return func(ctx context.Context, ev *Context, param string) error {
		if ev.Metadata.RuleID == "" || ev.Metadata.ComponentID == "" {
			return nil
		}

		var cfg randomConfig
		if err := json.Unmarshal([]byte(param), &cfg); err != nil {
			return err
		}
		if len(cfg.Results) == 0 || len(cfg.Results) != len(cfg.Weights) {
			return nil
		}

		var total float64
		for _, w := range cfg.Weights {
			if w < 0 || w > 1 {
				return nil
			}
			total += w
		}
		if total <= 0 {
			return nil
		}

		pick := rand.Float64() * total
		idx := len(cfg.Results) - 1
		for i, w := range cfg.Weights {
			if pick < w {
				idx = i
				break
			}
			pick -= w
		}

		sampled := cfg.Results[idx]
		if sampled.Type == "random" {
			return errors.New("random result cannot nest itself")
		}

		f, found := reg.Result(sampled.Type)
		if !found {
			return fmt.Errorf("unknown sampled result action %q", sampled.Type)
		}
		return f(ctx, ev, sampled.Parameter)
	}
}
