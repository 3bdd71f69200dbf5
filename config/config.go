// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sethvargo/go-envconfig"
)

// Config carries everything the data-plane listeners read from the
// environment. All parsing of environment strings happens here; no other
// package touches os.Getenv.
type Config struct {
	// ConnStr selects and connects the backing store. A postgres DSN or
	// URL picks the postgres driver, anything else is treated as a
	// sqlite path.
	ConnStr string `env:"DSSLDRF_CONNSTR,required"`

	// IPv6Pool is a space-separated list of IPv6 addresses used for
	// default AAAA answers.
	IPv6Pool string `env:"DSSLDRF_IPV6"`

	// Contact is the address published in SOA rname and apex CAA
	// contactemail/iodef records. Empty means info@<queried domain>, or
	// info@<first registered domain> when the domain is not known.
	Contact string `env:"DSSLDRF_CONTACT"`

	// CAIssuer is the CA published in default CAA issue records.
	CAIssuer string `env:"DSSLDRF_CA,default=letsencrypt.org"`

	// SOASerial is the deployment-chosen zone serial.
	SOASerial uint32 `env:"DSSLDRF_SOA_SERIAL,default=2025022101"`

	// Syslog, when set to host:port, ships logs there over UDP instead of
	// to the local handler; the local handler is used only when the
	// address cannot be dialled.
	Syslog string `env:"DSSLDRF_SYSLOG"`

	DNSPort      int    `env:"LSTNER_DNS_PORT,default=53"`
	DNSUDP       bool   `env:"LSTNER_DNS_UDP,default=true"`
	DNSInterface string `env:"LSTNER_DNS_INTERFACE"`

	HTTPPort      int    `env:"LSTNER_HTTP_PORT,default=443"`
	HTTPInterface string `env:"LSTNER_HTTP_INTERFACE"`
	HTTPTLS       bool   `env:"LSTNER_HTTP_TLS,default=true"`
	TLSCrtFile    string `env:"DSSLDRF_TLS_CRT_FILE"`
	TLSKeyFile    string `env:"DSSLDRF_TLS_KEY_FILE"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IPv6Addrs returns the configured IPv6 pool as a slice.
func (c *Config) IPv6Addrs() []string {
	var addrs []string

	for _, a := range strings.Split(c.IPv6Pool, " ") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// ValidateTLS checks that the certificate material exists when TLS is
// enabled. The listener treats a failure here as fatal.
func (c *Config) ValidateTLS() error {
	if !c.HTTPTLS {
		return nil
	}

	var err error
	if c.TLSCrtFile == "" {
		err = multierror.Append(err, fmt.Errorf("DSSLDRF_TLS_CRT_FILE not set while LSTNER_HTTP_TLS is enabled"))
	} else if _, serr := os.Stat(c.TLSCrtFile); serr != nil {
		err = multierror.Append(err, fmt.Errorf("TLS cert file %s: %w", c.TLSCrtFile, serr))
	}
	if c.TLSKeyFile == "" {
		err = multierror.Append(err, fmt.Errorf("DSSLDRF_TLS_KEY_FILE not set while LSTNER_HTTP_TLS is enabled"))
	} else if _, serr := os.Stat(c.TLSKeyFile); serr != nil {
		err = multierror.Append(err, fmt.Errorf("TLS key file %s: %w", c.TLSKeyFile, serr))
	}
	return err
}
