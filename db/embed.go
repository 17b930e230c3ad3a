// Package db embeds the database schema so binaries can migrate without
// shipping SQL files alongside them.
package db

import _ "embed"

// Schema holds the DDL for every table the promo engine uses.
//
//go:embed migrations/001_schema.sql
var Schema string
