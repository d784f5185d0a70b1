// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema contains the idempotent DDL for all checkout and ledger tables.
//
//go:embed migrations/001_schema.sql
var Schema string
