// Package db provides the embedded schema for the raw and reporting tables.
package db

import _ "embed"

// Schema contains the idempotent DDL for all tables used by the metrics jobs.
//
//go:embed migrations/001_schema.sql
var Schema string
