// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package fqdn normalises and validates the names that arrive on the
// wire, and decides whether they fall under a registered parent domain.
package fqdn

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// maxNameLen is the longest textual FQDN accepted, without trailing dot.
const maxNameLen = 253

// maxLabelLen is the longest single label accepted.
const maxLabelLen = 63

var labelRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var (
	ErrEmptyName   = errors.New("empty name")
	ErrNameTooLong = errors.New("name exceeds 253 characters")
	ErrBadLabel    = errors.New("invalid DNS label")
)

// Normalize lowercases the name, strips one trailing dot, IDNA-encodes
// non-ASCII content and validates every label. The returned name is the
// canonical internal form.
func Normalize(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", ErrEmptyName
	}

	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", ErrBadLabel
	}

	if len(ascii) > maxNameLen {
		return "", ErrNameTooLong
	}
	for _, label := range strings.Split(ascii, ".") {
		if len(label) == 0 || len(label) > maxLabelLen || !labelRE.MatchString(label) {
			return "", ErrBadLabel
		}
	}
	return ascii, nil
}

// Valid reports whether the raw name normalises cleanly.
func Valid(name string) bool {
	_, err := Normalize(name)
	return err == nil
}

// InDomain reports whether the normalised name equals the domain or lies
// under it.
func InDomain(name, domain string) bool {
	if name == "" || domain == "" {
		return false
	}
	return name == domain || strings.HasSuffix(name, "."+domain)
}

// MatchDomain returns the first domain from the list that contains the
// name, or "" when none does.
func MatchDomain(name string, domains []string) string {
	for _, d := range domains {
		if InDomain(name, strings.ToLower(d)) {
			return strings.ToLower(d)
		}
	}
	return ""
}
