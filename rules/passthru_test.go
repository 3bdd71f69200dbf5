// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"net/url"
	"testing"

	"github.com/microsoft/dusseldorf/passthru"
	"github.com/microsoft/dusseldorf/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePassthrough records the call and returns a canned upstream reply.
type fakePassthrough struct {
	target *url.URL
	opts   passthru.Options
	result *passthru.Result
	err    error
}

func (f *fakePassthrough) Fetch(_ context.Context, _ *types.HTTPRequest, target *url.URL, opts passthru.Options) (*passthru.Result, error) {
	f.target = target
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestPassthruFoldsUpstream(t *testing.T) {
	pt := &fakePassthrough{result: &passthru.Result{
		StatusCode: 302,
		Headers:    map[string]string{"Location": "https://upstream.example/"},
		Body:       "moved",
	}}

	f := passthruResult(pt)
	ev := httpCtx()
	require.NoError(t, f(context.Background(), ev, "http://upstream.example/"))

	resp := ev.Response.(*types.HTTPResponse)
	assert.Equal(t, 302, resp.StatusCode)
	assert.Equal(t, "moved", resp.Body)
	assert.Equal(t, "upstream.example", pt.target.Host)
}

func TestPassthruUnsafeLeavesResponse(t *testing.T) {
	pt := &fakePassthrough{err: passthru.ErrUnsafeTarget}

	f := passthruResult(pt)
	ev := httpCtx()
	ev.Response.(*types.HTTPResponse).Body = "before"

	err := f(context.Background(), ev, "http://127.0.0.1/")
	assert.Error(t, err)

	resp := ev.Response.(*types.HTTPResponse)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "before", resp.Body, "unsafe target must not touch the response")
}

func TestPassthruNonURLIsNoop(t *testing.T) {
	pt := &fakePassthrough{result: &passthru.Result{StatusCode: 500}}

	f := passthruResult(pt)
	ev := httpCtx()
	require.NoError(t, f(context.Background(), ev, "definitely not a url"))

	assert.Nil(t, pt.target, "no outbound call for a non-URL parameter")
	assert.Equal(t, 200, ev.Response.(*types.HTTPResponse).StatusCode)
}

func TestPassthru2PassesOptions(t *testing.T) {
	pt := &fakePassthrough{result: &passthru.Result{StatusCode: 204, Headers: map[string]string{}}}

	f := passthru2Result(pt)
	ev := httpCtx()
	param := `{"url":"https://upstream.example/","skip_tls_check":true,"timeout_in_ms":4000,"subs":{"aaa":"bbb"}}`
	require.NoError(t, f(context.Background(), ev, param))

	assert.Equal(t, "upstream.example", pt.target.Host)
	assert.True(t, pt.opts.InsecureSkipVerify)
	assert.True(t, pt.opts.AddXFF, "XFF is added unless skip_xff is set")
	assert.Equal(t, map[string]string{"aaa": "bbb"}, pt.opts.Subs)
	assert.Equal(t, 204, ev.Response.(*types.HTTPResponse).StatusCode)
}

func TestPassthru2SkipXFF(t *testing.T) {
	pt := &fakePassthrough{result: &passthru.Result{StatusCode: 200, Headers: map[string]string{}}}

	f := passthru2Result(pt)
	require.NoError(t, f(context.Background(), httpCtx(), `{"url":"http://upstream.example/","skip_xff":true}`))
	assert.False(t, pt.opts.AddXFF)
}

func TestPassthru2MalformedConfig(t *testing.T) {
	pt := &fakePassthrough{}

	f := passthru2Result(pt)
	assert.Error(t, f(context.Background(), httpCtx(), `{"url": 7}`))
	assert.Nil(t, pt.target)
}
