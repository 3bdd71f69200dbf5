// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"testing"

	"github.com/microsoft/dusseldorf/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerReq(headers map[string]string) *types.HTTPRequest {
	return &types.HTTPRequest{
		Method:  "GET",
		Path:    "/",
		Headers: headers,
	}
}

func TestDNSTypePredicate(t *testing.T) {
	req := types.NewDNSRequest("foo.z.d.test", "z.d.test", "d.test", "CNAME", "203.0.113.9")

	ok, err := dnsTypePredicate(req, "a,cname,mx")
	require.NoError(t, err)
	assert.True(t, ok, "case-insensitive membership")

	ok, err = dnsTypePredicate(req, "A,AAAA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPTLSPredicate(t *testing.T) {
	ok, _ := httpTLSPredicate(&types.HTTPRequest{TLS: true}, "1")
	assert.True(t, ok)

	ok, _ = httpTLSPredicate(&types.HTTPRequest{}, "1")
	assert.False(t, ok)
}

func TestHTTPMethodPredicate(t *testing.T) {
	req := headerReq(nil)

	ok, _ := httpMethodPredicate(req, "get,put")
	assert.True(t, ok)

	ok, _ = httpMethodPredicate(req, "POST")
	assert.False(t, ok)
}

func TestHTTPPathPredicate(t *testing.T) {
	req := &types.HTTPRequest{Method: "GET", Path: "/api/v1/users"}

	ok, err := httpPathPredicate(req, `^/api/`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = httpPathPredicate(req, `users$`)
	require.NoError(t, err)
	assert.True(t, ok, "regex search, not full match")

	ok, err = httpPathPredicate(req, `^/admin`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = httpPathPredicate(req, `((`)
	assert.Error(t, err, "bad regex surfaces as a rule program error")
}

func TestHTTPBodyPredicate(t *testing.T) {
	req := &types.HTTPRequest{Method: "POST", Path: "/", Body: `{"probe":"xxe"}`}

	ok, err := httpBodyPredicate(req, "probe")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = httpBodyPredicate(req, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPHeaderPredicate(t *testing.T) {
	req := headerReq(map[string]string{"X-Probe": "1"})

	ok, _ := httpHeaderPredicate(req, "x-probe")
	assert.True(t, ok, "presence check is case-insensitive")

	ok, _ = httpHeaderPredicate(req, "X-Other")
	assert.False(t, ok)
}

func TestHTTPHeaderKeysPredicate(t *testing.T) {
	req := headerReq(map[string]string{"X-One": "1", "X-Two": "2"})

	ok, _ := httpHeaderKeysPredicate(req, "x-one,x-two")
	assert.True(t, ok)

	ok, _ = httpHeaderKeysPredicate(req, "x-one,x-three")
	assert.False(t, ok, "every listed header must be present")
}

func TestHTTPHeaderValuesPredicate(t *testing.T) {
	req := headerReq(map[string]string{"X-Token": "secret"})

	ok, err := httpHeaderValuesPredicate(req, `{"X-Token":"secret"}`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = httpHeaderValuesPredicate(req, `{"X-Token":"other"}`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = httpHeaderValuesPredicate(req, `not json`)
	assert.Error(t, err)
}

func TestHTTPHeaderRegexesPredicate(t *testing.T) {
	req := headerReq(map[string]string{"User-Agent": "curl/8.4.0"})

	ok, err := httpHeaderRegexesPredicate(req, `{"User-Agent":"^curl/"}`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = httpHeaderRegexesPredicate(req, `{"User-Agent":"^wget/"}`)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPredicatesIgnoreWrongRequestKind(t *testing.T) {
	dnsReq := types.NewDNSRequest("foo.z.d.test", "z.d.test", "d.test", "A", "203.0.113.9")

	ok, err := httpPathPredicate(dnsReq, ".*")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = dnsTypePredicate(&types.HTTPRequest{}, "A")
	require.NoError(t, err)
	assert.False(t, ok)
}
