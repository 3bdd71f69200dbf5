// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package rules evaluates the per-zone response programs: predicates
// decide whether a rule matches a request, results assemble the response.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/microsoft/dusseldorf/types"
)

// PredicateFunc reports whether a request satisfies a predicate with the
// given parameter. A returned error marks a malformed rule program; the
// engine logs it and skips the component.
type PredicateFunc func(req types.Request, param string) (bool, error)

// ResultFunc applies one result action to the evaluation context.
type ResultFunc func(ctx context.Context, ev *Context, param string) error

// Metadata identifies the rule and component currently executing.
type Metadata struct {
	RuleID      string
	ComponentID string
}

// Context is the mutable state a rule's results operate on. It is owned
// by a single handler goroutine.
type Context struct {
	Response types.Response
	Zone     string
	Request  types.Request
	Metadata Metadata
}

// Registry maps catalogue names to predicate and result implementations.
// New kinds are added by registering implementations at engine init.
type Registry struct {
	sync.RWMutex
	predicates map[string]PredicateFunc
	results    map[string]ResultFunc
	log        *slog.Logger
}

func NewRegistry(l *slog.Logger) *Registry {
	if l == nil {
		l = slog.Default()
	}
	return &Registry{
		predicates: make(map[string]PredicateFunc),
		results:    make(map[string]ResultFunc),
		log:        l.WithGroup("rules"),
	}
}

// RegisterPredicate adds a predicate implementation under its catalogue
// name. Registering a name twice is a programming error.
func (r *Registry) RegisterPredicate(name string, f PredicateFunc) error {
	r.Lock()
	defer r.Unlock()

	if _, found := r.predicates[name]; found {
		return fmt.Errorf("predicate %s already registered", name)
	}
	r.predicates[name] = f
	return nil
}

// RegisterResult adds a result implementation under its catalogue name.
func (r *Registry) RegisterResult(name string, f ResultFunc) error {
	r.Lock()
	defer r.Unlock()

	if _, found := r.results[name]; found {
		return fmt.Errorf("result %s already registered", name)
	}
	r.results[name] = f
	return nil
}

// Predicate looks up a predicate implementation by name.
func (r *Registry) Predicate(name string) (PredicateFunc, bool) {
	r.RLock()
	defer r.RUnlock()

	f, found := r.predicates[name]
	return f, found
}

// Result looks up a result implementation by name.
func (r *Registry) Result(name string) (ResultFunc, bool) {
	r.RLock()
	defer r.RUnlock()

	f, found := r.results[name]
	return f, found
}
