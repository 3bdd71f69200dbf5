// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDNSRequestSummary(t *testing.T) {
	req := NewDNSRequest("Foo.Z.D.Test", "z.d.test", "d.test", "a", "203.0.113.9")

	assert.Equal(t, "A/foo.z.d.test", req.Summary())
	assert.Equal(t, ProtoDNS, req.Protocol())
	assert.Equal(t, "foo.z.d.test", req.RequestFQDN())
}

func TestDNSResponseSummaries(t *testing.T) {
	cases := []struct {
		rtype string
		data  map[string]interface{}
		want  string
	}{
		{"A", map[string]interface{}{"ip": "1.1.1.1"}, "1.1.1.1"},
		{"AAAA", map[string]interface{}{"ip": "::1"}, "::1"},
		{"CNAME", map[string]interface{}{"cname": "cname.d.test."}, "cname.d.test."},
		{"MX", map[string]interface{}{"priority": 10, "name": "mail.d.test"}, "10 mail.d.test"},
		{"NS", map[string]interface{}{"ns": "1.1.1.1"}, "1.1.1.1"},
		{"TXT", map[string]interface{}{"txt": "txt"}, "txt"},
		{"CAA", map[string]interface{}{"flags": 0, "tag": "issue", "value": "ca.example"}, "0 issue ca.example"},
	}

	for _, c := range cases {
		resp := NewDNSResponse(c.rtype, "foo.z.d.test")
		resp.Data = c.data
		assert.Equal(t, c.want, resp.Summary(), "summary for %s", c.rtype)
	}
}

func TestDNSResponseJSON(t *testing.T) {
	resp := NewDNSResponse("a", "foo.z.d.test")
	resp.Data = map[string]interface{}{"ip": "1.1.1.1"}

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON()), &decoded))

	assert.Equal(t, "A", decoded["ResponseType"])
	assert.Equal(t, "foo.z.d.test", decoded["ResponseName"])
	assert.Equal(t, float64(3600), decoded["TTL"])
}

func TestHTTPRequestSummaryTruncatesPath(t *testing.T) {
	req := &HTTPRequest{Method: "GET", Path: "/short"}
	assert.Equal(t, "GET /short", req.Summary())

	req = &HTTPRequest{Method: "POST", Path: "/a/very/long/path/that/keeps/going"}
	assert.Equal(t, "POST /a/very/long/path/th..", req.Summary())
}

func TestHTTPRequestProtocol(t *testing.T) {
	assert.Equal(t, ProtoHTTP, (&HTTPRequest{}).Protocol())
	assert.Equal(t, ProtoHTTPS, (&HTTPRequest{TLS: true}).Protocol())
}

func TestHTTPResponseJSON(t *testing.T) {
	resp := &HTTPResponse{
		StatusCode: 201,
		Headers:    map[string]string{"X-Test": "1"},
		Body:       "created",
	}
	assert.Equal(t, "HTTP 201", resp.Summary())

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.JSON()), &decoded))

	assert.Equal(t, float64(201), decoded["code"])
	assert.Equal(t, "created", decoded["body"])
}

func TestEmptyHTTPResponse(t *testing.T) {
	resp := EmptyHTTPResponse()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Headers)
	assert.Empty(t, resp.Body)
}
