// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package storetest provides an in-memory Store for hermetic tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microsoft/dusseldorf/store"
)

// Fake implements store.Store entirely in memory.
type Fake struct {
	sync.Mutex

	DomainList []store.Domain
	ZoneList   []store.Zone

	// Predicates maps "zone|protocol" to rule predicate sets in
	// priority order, the same shape the real client returns.
	Predicates map[string][]store.RulePredicates

	// Results maps ruleid to its result actions in stored order.
	Results map[string][]store.ResultAction

	// Interactions collects everything recorded.
	Interactions []*store.Interaction

	// Err, when set, is returned by every read operation.
	Err error
}

func New() *Fake {
	return &Fake{
		Predicates: make(map[string][]store.RulePredicates),
		Results:    make(map[string][]store.ResultAction),
	}
}

// AddDomain registers a parent domain with its public IP pool.
func (f *Fake) AddDomain(domain string, ips ...string) {
	f.Lock()
	defer f.Unlock()
	f.DomainList = append(f.DomainList, store.Domain{Domain: domain, PublicIPs: ips})
}

// AddZone registers a zone under a domain.
func (f *Fake) AddZone(fqdn, domain string) {
	f.Lock()
	defer f.Unlock()
	f.ZoneList = append(f.ZoneList, store.Zone{FQDN: fqdn, Domain: domain})
}

// AddRule binds a rule's predicates and results to a zone and protocol.
// Rules are kept in insertion order; callers insert by ascending priority.
func (f *Fake) AddRule(zone, protocol, ruleID string, preds []store.Predicate, results []store.ResultAction) {
	f.Lock()
	defer f.Unlock()
	key := zone + "|" + protocol
	f.Predicates[key] = append(f.Predicates[key], store.RulePredicates{RuleID: ruleID, Predicates: preds})
	f.Results[ruleID] = results
}

func (f *Fake) Domains(_ context.Context) ([]store.Domain, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]store.Domain(nil), f.DomainList...), nil
}

func (f *Fake) DomainNames(ctx context.Context) ([]string, error) {
	domains, err := f.Domains(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, strings.ToLower(d.Domain))
	}
	return names, nil
}

func (f *Fake) PublicIPs(_ context.Context, domain string) ([]string, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, d := range f.DomainList {
		if domain == "" || strings.EqualFold(d.Domain, domain) {
			return d.PublicIPs, nil
		}
	}
	return nil, nil
}

func (f *Fake) ZoneForFQDN(_ context.Context, fqdn string) (string, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return "", f.Err
	}

	fqdn = strings.ToLower(fqdn)
	var candidates []string
	for _, z := range f.ZoneList {
		if fqdn == z.FQDN {
			return z.FQDN, nil
		}
		if strings.HasSuffix(fqdn, "."+z.FQDN) {
			candidates = append(candidates, z.FQDN)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	return candidates[0], nil
}

func (f *Fake) DomainForZone(_ context.Context, zone string) (string, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	for _, z := range f.ZoneList {
		if strings.EqualFold(z.FQDN, zone) {
			return z.Domain, nil
		}
	}
	return "", nil
}

func (f *Fake) PredicatesFor(_ context.Context, zone, protocol string) ([]store.RulePredicates, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Predicates[zone+"|"+protocol], nil
}

func (f *Fake) ResultsFor(_ context.Context, ruleID string) ([]store.ResultAction, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Results[ruleID], nil
}

func (f *Fake) RecordInteraction(_ context.Context, rec *store.Interaction) (int64, error) {
	f.Lock()
	defer f.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	rec.Time = time.Now().Unix()
	f.Interactions = append(f.Interactions, rec)
	return rec.Time, nil
}

// Recorded returns a snapshot of everything recorded so far.
func (f *Fake) Recorded() []*store.Interaction {
	f.Lock()
	defer f.Unlock()
	return append([]*store.Interaction(nil), f.Interactions...)
}

func (f *Fake) Ping(_ context.Context) error {
	return f.Err
}

func (f *Fake) Close() error {
	return nil
}
