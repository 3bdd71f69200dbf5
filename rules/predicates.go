// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package rules

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/caffix/stringset"
	"github.com/microsoft/dusseldorf/types"
)

// RegisterDNSCatalogue installs everything the DNS listener dispatches.
func RegisterDNSCatalogue(r *Registry) {
	_ = r.RegisterPredicate("dns.type", dnsTypePredicate)
	_ = r.RegisterResult("dns.type", dnsTypeResult)
	_ = r.RegisterResult("dns.data", dnsDataResult)
	_ = r.RegisterResult("dns.ttl", dnsTTLResult)
}

// RegisterHTTPCatalogue installs everything the HTTP listener dispatches,
// with the passthrough actions backed by the given outbound client.
func RegisterHTTPCatalogue(r *Registry, pt Passthrough) {
	_ = r.RegisterPredicate("http.tls", httpTLSPredicate)
	_ = r.RegisterPredicate("http.method", httpMethodPredicate)
	_ = r.RegisterPredicate("http.path", httpPathPredicate)
	_ = r.RegisterPredicate("http.body", httpBodyPredicate)
	_ = r.RegisterPredicate("http.header", httpHeaderPredicate)
	_ = r.RegisterPredicate("http.headers.keys", httpHeaderKeysPredicate)
	_ = r.RegisterPredicate("http.headers.values", httpHeaderValuesPredicate)
	_ = r.RegisterPredicate("http.headers.regexes", httpHeaderRegexesPredicate)

	_ = r.RegisterResult("http.code", httpCodeResult)
	_ = r.RegisterResult("http.body", httpBodyResult)
	_ = r.RegisterResult("http.header", httpHeaderResult)
	_ = r.RegisterResult("http.headers", httpHeadersResult)
	_ = r.RegisterResult("var", varResult)
	_ = r.RegisterResult("random", randomResult(r))
	RegisterPassthru(r, pt)
}

// csvSet splits a comma-separated parameter into a lowercase set.
func csvSet(param string) *stringset.Set {
	set := stringset.New()
	for _, item := range strings.Split(param, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			set.Insert(item)
		}
	}
	return set
}

// headerValue fetches a header by case-insensitive name.
func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// dnsTypePredicate matches when the query type appears in the
// comma-separated parameter.
func dnsTypePredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.DNSRequest)
	if !ok {
		return false, nil
	}

	set := csvSet(param)
	defer set.Close()
	return set.Has(strings.ToLower(r.QType)), nil
}

// httpTLSPredicate matches when the request arrived over TLS.
func httpTLSPredicate(req types.Request, _ string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}
	return r.TLS, nil
}

// httpMethodPredicate matches when the method appears in the
// comma-separated parameter.
func httpMethodPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	set := csvSet(param)
	defer set.Close()
	return set.Has(strings.ToLower(r.Method)), nil
}

// httpPathPredicate matches when the parameter regex finds the path.
func httpPathPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	re, err := regexp.Compile(param)
	if err != nil {
		return false, err
	}
	return re.MatchString(r.Path), nil
}

// httpBodyPredicate matches when the parameter regex finds the decoded
// body.
func httpBodyPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	re, err := regexp.Compile(param)
	if err != nil {
		return false, err
	}
	return re.MatchString(r.Body), nil
}

// httpHeaderPredicate matches when the named header is present.
func httpHeaderPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	_, present := headerValue(r.Headers, param)
	return present, nil
}

// httpHeaderKeysPredicate matches when every listed header is present.
func httpHeaderKeysPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	required := csvSet(param)
	defer required.Close()

	actual := stringset.New()
	defer actual.Close()
	for k := range r.Headers {
		actual.Insert(strings.ToLower(k))
	}

	for _, k := range required.Slice() {
		if !actual.Has(k) {
			return false, nil
		}
	}
	return true, nil
}

// httpHeaderValuesPredicate matches when every header in the JSON object
// is present with exactly the given value.
func httpHeaderValuesPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	var required map[string]string
	if err := json.Unmarshal([]byte(param), &required); err != nil {
		return false, err
	}

	for name, want := range required {
		got, present := headerValue(r.Headers, name)
		if !present || got != want {
			return false, nil
		}
	}
	return true, nil
}

// httpHeaderRegexesPredicate matches when every header in the JSON object
// is present and its value matches the given regex.
func httpHeaderRegexesPredicate(req types.Request, param string) (bool, error) {
	r, ok := req.(*types.HTTPRequest)
	if !ok {
		return false, nil
	}

	var required map[string]string
	if err := json.Unmarshal([]byte(param), &required); err != nil {
		return false, err
	}

	for name, pattern := range required {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		got, present := headerValue(r.Headers, name)
		if !present || !re.MatchString(got) {
			return false, nil
		}
	}
	return true, nil
}
