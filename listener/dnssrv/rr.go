// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package dnssrv

import (
	"net"
	"strconv"

	"github.com/miekg/dns"
	"github.com/microsoft/dusseldorf/types"
)

// makeRR synthesizes the answer record for a response. Types outside the
// synthesizable set degrade to an empty TXT when they are real DNS types;
// anything else yields nil and the caller answers NXDOMAIN.
func (s *Server) makeRR(resp *types.DNSResponse) dns.RR {
	if resp == nil {
		return nil
	}

	rtype := resp.ResponseType()
	hdr := func(t uint16) dns.RR_Header {
		return dns.RR_Header{
			Name:   dns.Fqdn(resp.Name),
			Rrtype: t,
			Class:  dns.ClassINET,
			Ttl:    resp.TTL,
		}
	}

	switch rtype {
	case "A":
		ip := net.ParseIP(dataString(resp.Data, "ip"))
		if ip = ip.To4(); ip == nil {
			s.log.Warn("invalid IPv4 address in rdata", "ip", dataString(resp.Data, "ip"))
			ip = net.IPv4zero.To4()
		}
		return &dns.A{Hdr: hdr(dns.TypeA), A: ip}

	case "AAAA":
		ip := net.ParseIP(dataString(resp.Data, "ip"))
		if ip == nil || ip.To4() != nil {
			s.log.Warn("invalid IPv6 address in rdata", "ip", dataString(resp.Data, "ip"))
			ip = net.IPv6zero
		}
		return &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: ip}

	case "CNAME":
		return &dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(dataString(resp.Data, "cname"))}

	case "MX":
		return &dns.MX{
			Hdr:        hdr(dns.TypeMX),
			Preference: uint16(dataInt(resp.Data, "priority")),
			Mx:         dns.Fqdn(dataString(resp.Data, "name")),
		}

	case "NS":
		return &dns.NS{Hdr: hdr(dns.TypeNS), Ns: dns.Fqdn(dataString(resp.Data, "ns"))}

	case "CAA":
		return &dns.CAA{
			Hdr:   hdr(dns.TypeCAA),
			Flag:  uint8(dataInt(resp.Data, "flags")),
			Tag:   dataString(resp.Data, "tag"),
			Value: dataString(resp.Data, "value"),
		}

	case "SOA":
		times := dataInts(resp.Data, "times", 5)
		return &dns.SOA{
			Hdr:     hdr(dns.TypeSOA),
			Ns:      dns.Fqdn(dataString(resp.Data, "mname")),
			Mbox:    dns.Fqdn(dataString(resp.Data, "rname")),
			Serial:  uint32(times[0]),
			Refresh: uint32(times[1]),
			Retry:   uint32(times[2]),
			Expire:  uint32(times[3]),
			Minttl:  uint32(times[4]),
		}

	case "TXT":
		return &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{dataString(resp.Data, "txt")}}
	}

	// real but unsupported types degrade to an empty TXT answer
	if _, known := dns.StringToType[rtype]; known {
		s.log.Warn("unsupported DNS type", "rtype", rtype)
		return &dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{""}}
	}
	return nil
}

// dataString reads a string field out of rule-supplied rdata.
func dataString(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// dataInt reads a numeric field, tolerating the float64 values JSON
// decoding produces.
func dataInt(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case uint32:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// dataInts reads a numeric list field, padding missing entries with zero.
func dataInts(data map[string]interface{}, key string, n int) []int64 {
	out := make([]int64, n)

	switch list := data[key].(type) {
	case []interface{}:
		for i := 0; i < n && i < len(list); i++ {
			switch v := list[i].(type) {
			case float64:
				out[i] = int64(v)
			case int:
				out[i] = int64(v)
			case uint32:
				out[i] = int64(v)
			}
		}
	case []uint32:
		for i := 0; i < n && i < len(list); i++ {
			out[i] = int64(list[i])
		}
	}
	return out
}
