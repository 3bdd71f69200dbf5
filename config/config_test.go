// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DSSLDRF_CONNSTR", "host=db user=dssldrf dbname=dusseldorf")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 53, cfg.DNSPort)
	assert.True(t, cfg.DNSUDP)
	assert.Equal(t, 443, cfg.HTTPPort)
	assert.True(t, cfg.HTTPTLS)
	assert.Equal(t, "letsencrypt.org", cfg.CAIssuer)
	assert.Equal(t, uint32(2025022101), cfg.SOASerial)
}

func TestLoadRequiresConnStr(t *testing.T) {
	// the variable may leak in from the environment
	t.Setenv("DSSLDRF_CONNSTR", "")
	os.Unsetenv("DSSLDRF_CONNSTR")

	_, err := Load(context.Background())
	assert.Error(t, err)
}

func TestIPv6Addrs(t *testing.T) {
	cfg := &Config{IPv6Pool: "2001:db8::1  2001:db8::2 "}
	assert.Equal(t, []string{"2001:db8::1", "2001:db8::2"}, cfg.IPv6Addrs())

	cfg = &Config{}
	assert.Empty(t, cfg.IPv6Addrs())
}

func TestValidateTLS(t *testing.T) {
	cfg := &Config{HTTPTLS: false}
	assert.NoError(t, cfg.ValidateTLS(), "nothing to validate with TLS off")

	cfg = &Config{HTTPTLS: true}
	assert.Error(t, cfg.ValidateTLS(), "missing cert material is fatal")

	dir := t.TempDir()
	crt := filepath.Join(dir, "tls.crt")
	key := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(crt, []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0600))

	cfg = &Config{HTTPTLS: true, TLSCrtFile: crt, TLSKeyFile: key}
	assert.NoError(t, cfg.ValidateTLS())
}
