// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

// Package migrations embeds the schema migrations the store runs at
// startup, one directory per supported DBMS.
package migrations

import "embed"

//go:embed postgres/*.sql
var pgFS embed.FS

//go:embed sqlite3/*.sql
var sqliteFS embed.FS

// Postgres returns the migration files for postgres deployments.
func Postgres() embed.FS {
	return pgFS
}

// SQLite returns the migration files for sqlite deployments.
func SQLite() embed.FS {
	return sqliteFS
}
