// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DNSRequest represents a single DNS query received by the listener.
type DNSRequest struct {
	Fqdn   string
	Zone   string
	Domain string
	QType  string // textual qtype, always upper case
	Remote string
	TTL    uint32
}

// NewDNSRequest builds a DNSRequest with normalised casing.
func NewDNSRequest(fqdn, zone, domain, qtype, remote string) *DNSRequest {
	return &DNSRequest{
		Fqdn:   strings.ToLower(fqdn),
		Zone:   strings.ToLower(zone),
		Domain: strings.ToLower(domain),
		QType:  strings.ToUpper(qtype),
		Remote: remote,
		TTL:    3600,
	}
}

func (r *DNSRequest) RequestFQDN() string { return r.Fqdn }
func (r *DNSRequest) ZoneFQDN() string    { return r.Zone }
func (r *DNSRequest) Protocol() string    { return ProtoDNS }
func (r *DNSRequest) RemoteAddr() string  { return r.Remote }

func (r *DNSRequest) Summary() string {
	return fmt.Sprintf("%s/%s", r.QType, r.Fqdn)
}

func (r *DNSRequest) JSON() string {
	blob, err := json.Marshal(map[string]interface{}{
		"request_type": r.QType,
		"ttl":          r.TTL,
	})
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func (r *DNSRequest) String() string {
	return fmt.Sprintf("DNS %s %s", r.QType, r.Fqdn)
}

// DNSResponse carries everything needed to synthesize an answer RR and to
// render a short summary for the interaction record.
type DNSResponse struct {
	Type string // answer rtype, always upper case
	Name string // owner name of the answer
	Data map[string]interface{}
	TTL  uint32
}

// NewDNSResponse builds an empty response of the given type.
func NewDNSResponse(rtype, name string) *DNSResponse {
	return &DNSResponse{
		Type: strings.ToUpper(rtype),
		Name: name,
		Data: make(map[string]interface{}),
		TTL:  3600,
	}
}

// ResponseType returns the answer type in upper case, regardless of how
// the rule spelled it.
func (r *DNSResponse) ResponseType() string {
	return strings.ToUpper(r.Type)
}

// str pulls a string-typed field out of the rdata map.
func (r *DNSResponse) str(key string) string {
	if v, found := r.Data[key]; found {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func (r *DNSResponse) Summary() string {
	switch r.ResponseType() {
	case "A", "AAAA":
		return r.str("ip")
	case "CAA":
		return fmt.Sprintf("%s %s %s", r.str("flags"), r.str("tag"), r.str("value"))
	case "CNAME":
		return r.str("cname")
	case "NS":
		return r.str("ns")
	case "NXDOMAIN":
		return "NXDOMAIN"
	case "MX":
		return fmt.Sprintf("%s %s", r.str("priority"), r.str("name"))
	case "SOA":
		return fmt.Sprintf("%s %s", r.str("mname"), r.str("rname"))
	case "TXT":
		return r.str("txt")
	}
	return fmt.Sprintf("%v", r.Data)
}

func (r *DNSResponse) JSON() string {
	blob, err := json.Marshal(map[string]interface{}{
		"ResponseData": r.Data,
		"ResponseType": r.ResponseType(),
		"ResponseName": r.Name,
		"TTL":          r.TTL,
	})
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func (r *DNSResponse) String() string {
	return fmt.Sprintf("DNS %s/%s", r.ResponseType(), r.Summary())
}
