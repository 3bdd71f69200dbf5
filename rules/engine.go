// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"log/slog"

	"github.com/microsoft/dusseldorf/defaults"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/types"
)

// deferred result names run after every other result of the same rule,
// so variable substitution sees the final values.
var deferredResults = map[string]bool{
	"var": true,
}

// Engine selects the first matching rule for a request and applies its
// results. It always produces a response: a faulty rule component is
// logged and skipped, and a store failure degrades to the default
// response, never to a failure.
type Engine struct {
	store    store.Store
	defaults *defaults.Factory
	reg      *Registry
	log      *slog.Logger
}

func NewEngine(s store.Store, d *defaults.Factory, reg *Registry, l *slog.Logger) *Engine {
	if l == nil {
		l = slog.Default()
	}
	return &Engine{
		store:    s,
		defaults: d,
		reg:      reg,
		log:      l.WithGroup("ruleengine"),
	}
}

// GetResponse evaluates the zone's rules against the request. Rules are
// visited in ascending priority; the first whose predicates are all
// satisfied wins. With no match the default response is returned.
func (e *Engine) GetResponse(ctx context.Context, req types.Request) types.Response {
	sets, err := e.store.PredicatesFor(ctx, req.ZoneFQDN(), req.Protocol())
	if err != nil {
		e.log.Error("failed to fetch rule predicates", "zone", req.ZoneFQDN(), "err", err)
		return e.defaults.ForRequest(ctx, req)
	}

	for _, rp := range sets {
		if e.satisfies(req, rp.Predicates) {
			return e.apply(ctx, rp.RuleID, req)
		}
	}
	return e.defaults.ForRequest(ctx, req)
}

// satisfies reports whether every known predicate in the set holds. An
// empty parameter is a wildcard; unknown names and malformed parameters
// neither match nor fail the rule.
func (e *Engine) satisfies(req types.Request, preds []store.Predicate) bool {
	for _, p := range preds {
		if p.Value == "" {
			continue
		}

		f, found := e.reg.Predicate(p.Name)
		if !found {
			e.log.Warn("unknown predicate type", "name", p.Name)
			continue
		}

		ok, err := f(req, p.Value)
		if err != nil {
			e.log.Warn("predicate evaluation failed", "name", p.Name, "err", err)
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

// apply runs the matched rule's results in stored order, deferring the
// substitution actions to the end.
func (e *Engine) apply(ctx context.Context, ruleID string, req types.Request) types.Response {
	actions, err := e.store.ResultsFor(ctx, ruleID)
	if err != nil {
		e.log.Error("failed to fetch rule results", "ruleid", ruleID, "err", err)
		return e.defaults.ForRequest(ctx, req)
	}

	ev := &Context{
		Response: e.defaults.ForRequest(ctx, req),
		Zone:     req.ZoneFQDN(),
		Request:  req,
		Metadata: Metadata{RuleID: ruleID},
	}

	type pending struct {
		f           ResultFunc
		componentID string
		param       string
	}
	var last []pending

	for _, action := range actions {
		f, found := e.reg.Result(action.Name)
		if !found {
			e.log.Warn("unknown result action", "name", action.Name)
			continue
		}

		if deferredResults[action.Name] {
			last = append(last, pending{f: f, componentID: action.ComponentID, param: action.Value})
			continue
		}

		ev.Metadata.ComponentID = action.ComponentID
		if err := f(ctx, ev, action.Value); err != nil {
			e.log.Warn("result action failed", "name", action.Name, "ruleid", ruleID, "err", err)
		}
	}

	for _, p := range last {
		ev.Metadata.ComponentID = p.componentID
		if err := p.f(ctx, ev, p.param); err != nil {
			e.log.Warn("deferred result action failed", "ruleid", ruleID, "err", err)
		}
	}
	return ev.Response
}
