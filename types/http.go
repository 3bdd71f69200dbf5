// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// HTTPRequest represents a single HTTP or HTTPS request received by the
// listener. Body holds the payload when it decoded as UTF-8; otherwise
// BodyB64 holds the base64 encoding of the raw bytes and Body is empty.
type HTTPRequest struct {
	Fqdn    string
	Zone    string
	Remote  string
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Body    string
	BodyB64 string
	TLS     bool
}

func (r *HTTPRequest) RequestFQDN() string { return r.Fqdn }
func (r *HTTPRequest) ZoneFQDN() string    { return r.Zone }
func (r *HTTPRequest) RemoteAddr() string  { return r.Remote }

func (r *HTTPRequest) Protocol() string {
	if r.TLS {
		return ProtoHTTPS
	}
	return ProtoHTTP
}

func (r *HTTPRequest) Summary() string {
	path := r.Path
	if len(path) > 20 {
		path = path[:20] + ".."
	}
	return fmt.Sprintf("%s %s", r.Method, path)
}

func (r *HTTPRequest) JSON() string {
	blob, err := json.Marshal(map[string]interface{}{
		"method":   r.Method,
		"path":     r.Path,
		"version":  r.Version,
		"headers":  r.Headers,
		"body":     r.Body,
		"body_b64": r.BodyB64,
		"tls":      r.TLS,
	})
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func (r *HTTPRequest) String() string {
	scheme := "HTTP"
	if r.TLS {
		scheme = "HTTPS"
	}
	return fmt.Sprintf("%s %s %s%s", scheme, r.Method, r.Fqdn, r.Path)
}

// HTTPResponse is the reply the listener puts on the wire.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// EmptyHTTPResponse returns the intentional-silence reply: 200, no
// headers, no body.
func EmptyHTTPResponse() *HTTPResponse {
	return &HTTPResponse{
		StatusCode: 200,
		Headers:    make(map[string]string),
		Body:       "",
	}
}

func (r *HTTPResponse) Summary() string {
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

func (r *HTTPResponse) JSON() string {
	blob, err := json.Marshal(map[string]interface{}{
		"code":    r.StatusCode,
		"headers": r.Headers,
		"body":    r.Body,
	})
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func (r *HTTPResponse) String() string {
	return r.Summary()
}
