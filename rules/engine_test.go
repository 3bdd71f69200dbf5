// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/microsoft/dusseldorf/config"
	"github.com/microsoft/dusseldorf/defaults"
	"github.com/microsoft/dusseldorf/store"
	"github.com/microsoft/dusseldorf/store/storetest"
	"github.com/microsoft/dusseldorf/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(fake *storetest.Fake) *Engine {
	cfg := &config.Config{CAIssuer: "ca.example", SOASerial: 2025022101}
	facto := defaults.New(fake, cfg, discard())

	reg := NewRegistry(discard())
	RegisterDNSCatalogue(reg)
	RegisterHTTPCatalogue(reg, nil)

	return NewEngine(fake, facto, reg, discard())
}

func seededFake() *storetest.Fake {
	fake := storetest.New()
	fake.AddDomain("d.test", "1.1.1.1")
	fake.AddZone("z.d.test", "d.test")
	return fake
}

func httpReq(method, path, body string) *types.HTTPRequest {
	return &types.HTTPRequest{
		Fqdn:    "z.d.test",
		Zone:    "z.d.test",
		Remote:  "203.0.113.9",
		Method:  method,
		Path:    path,
		Version: "HTTP/1.1",
		Headers: map[string]string{"Host": "z.d.test"},
		Body:    body,
	}
}

func TestNoRuleYieldsDefault(t *testing.T) {
	e := testEngine(seededFake())

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	httpResp, ok := resp.(*types.HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 200, httpResp.StatusCode)
	assert.Empty(t, httpResp.Body)
}

func TestUnsatisfiedPredicateYieldsDefault(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1",
		[]store.Predicate{{Name: "http.method", Value: "POST"}},
		[]store.ResultAction{{ComponentID: "c1", Name: "http.code", Value: "201"}})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	httpResp := resp.(*types.HTTPResponse)
	assert.Equal(t, 200, httpResp.StatusCode, "predicate unsatisfied, rule must not run")
}

func TestPriorityOrderWins(t *testing.T) {
	fake := seededFake()
	// both rules satisfied; insertion order is priority order
	fake.AddRule("z.d.test", "http", "rule-10",
		[]store.Predicate{{Name: "http.method", Value: "POST"}},
		[]store.ResultAction{{ComponentID: "c1", Name: "http.code", Value: "201"}})
	fake.AddRule("z.d.test", "http", "rule-20",
		[]store.Predicate{{Name: "http.method", Value: "POST"}},
		[]store.ResultAction{{ComponentID: "c2", Name: "http.code", Value: "500"}})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("POST", "/api", "ping"))
	httpResp := resp.(*types.HTTPResponse)
	assert.Equal(t, 201, httpResp.StatusCode, "the lowest priority rule wins")
}

func TestEmptyPredicateValueIsWildcard(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1",
		[]store.Predicate{{Name: "http.method", Value: ""}},
		[]store.ResultAction{{ComponentID: "c1", Name: "http.code", Value: "418"}})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	assert.Equal(t, 418, resp.(*types.HTTPResponse).StatusCode)
}

func TestUnknownPredicateIsSkipped(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1",
		[]store.Predicate{
			{Name: "http.totally.new", Value: "whatever"},
			{Name: "http.method", Value: "GET"},
		},
		[]store.ResultAction{{ComponentID: "c1", Name: "http.code", Value: "204"}})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	assert.Equal(t, 204, resp.(*types.HTTPResponse).StatusCode,
		"unknown predicates neither match nor fail the rule")
}

func TestUnknownResultIsSkipped(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1", nil,
		[]store.ResultAction{
			{ComponentID: "c1", Name: "http.teleport", Value: "nope"},
			{ComponentID: "c2", Name: "http.code", Value: "202"},
		})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	assert.Equal(t, 202, resp.(*types.HTTPResponse).StatusCode)
}

func TestMalformedRegexSkipsComponent(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1",
		[]store.Predicate{{Name: "http.path", Value: "(("}},
		[]store.ResultAction{{ComponentID: "c1", Name: "http.code", Value: "418"}})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	assert.Equal(t, 418, resp.(*types.HTTPResponse).StatusCode,
		"a regex compile failure skips the component, not the rule")
}

func TestVarRunsAfterOtherResults(t *testing.T) {
	fake := seededFake()
	// var is stored before http.body but must apply after it
	fake.AddRule("z.d.test", "http", "rule-1", nil,
		[]store.ResultAction{
			{ComponentID: "c1", Name: "var", Value: "PLACEHOLDER:replaced"},
			{ComponentID: "c2", Name: "http.body", Value: "value=PLACEHOLDER"},
		})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	assert.Equal(t, "value=replaced", resp.(*types.HTTPResponse).Body)
}

func TestVarUUIDFunction(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1", nil,
		[]store.ResultAction{
			{ComponentID: "c1", Name: "http.body", Value: "id=ok"},
			{ComponentID: "c2", Name: "var", Value: "ok:uuid()"},
		})
	e := testEngine(fake)

	first := e.GetResponse(context.Background(), httpReq("GET", "/", "")).(*types.HTTPResponse)
	second := e.GetResponse(context.Background(), httpReq("GET", "/", "")).(*types.HTTPResponse)

	id1 := first.Body[len("id="):]
	id2 := second.Body[len("id="):]

	_, err := uuid.Parse(id1)
	require.NoError(t, err, "body should contain a valid UUID")
	assert.NotEqual(t, id1, id2, "two invocations yield different UUIDs")
}

func TestVarZoneFunction(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1", nil,
		[]store.ResultAction{
			{ComponentID: "c1", Name: "http.body", Value: "here"},
			{ComponentID: "c2", Name: "var", Value: "here:zone()"},
		})
	e := testEngine(fake)

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", "")).(*types.HTTPResponse)
	assert.Equal(t, "z.d.test", resp.Body)
}

func TestIdempotentEvaluation(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "http", "rule-1", nil,
		[]store.ResultAction{
			{ComponentID: "c1", Name: "http.code", Value: "207"},
			{ComponentID: "c2", Name: "http.body", Value: "stable"},
			{ComponentID: "c3", Name: "http.header", Value: "X-Tag: one"},
		})
	e := testEngine(fake)

	req := httpReq("GET", "/", "")
	first := e.GetResponse(context.Background(), req).(*types.HTTPResponse)
	second := e.GetResponse(context.Background(), req).(*types.HTTPResponse)

	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Headers, second.Headers)
}

func TestDNSRuleOverridesData(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "dns", "rule-1",
		[]store.Predicate{{Name: "dns.type", Value: "A"}},
		[]store.ResultAction{{ComponentID: "c1", Name: "dns.data", Value: `{"ip":"9.9.9.9"}`}})
	e := testEngine(fake)

	req := types.NewDNSRequest("z.d.test", "z.d.test", "d.test", "A", "203.0.113.9")
	resp := e.GetResponse(context.Background(), req).(*types.DNSResponse)

	assert.Equal(t, "A", resp.ResponseType())
	assert.Equal(t, "9.9.9.9", resp.Data["ip"])
}

func TestDNSRuleTypeAndTTL(t *testing.T) {
	fake := seededFake()
	fake.AddRule("z.d.test", "dns", "rule-1",
		[]store.Predicate{{Name: "dns.type", Value: "A,AAAA"}},
		[]store.ResultAction{
			{ComponentID: "c1", Name: "dns.type", Value: "TXT"},
			{ComponentID: "c2", Name: "dns.data", Value: `{"txt":"hello"}`},
			{ComponentID: "c3", Name: "dns.ttl", Value: "60"},
		})
	e := testEngine(fake)

	req := types.NewDNSRequest("x.z.d.test", "z.d.test", "d.test", "A", "203.0.113.9")
	resp := e.GetResponse(context.Background(), req).(*types.DNSResponse)

	assert.Equal(t, "TXT", resp.ResponseType())
	assert.Equal(t, "hello", resp.Data["txt"])
	assert.Equal(t, uint32(60), resp.TTL)
}

func TestStoreFailureFallsBackToDefault(t *testing.T) {
	fake := seededFake()
	e := testEngine(fake)
	fake.Err = store.ErrStoreUnavailable

	resp := e.GetResponse(context.Background(), httpReq("GET", "/", ""))
	httpResp, ok := resp.(*types.HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 200, httpResp.StatusCode)
}
