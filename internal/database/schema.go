package database

import _ "embed"

//go:embed schemas/insider.sql
var insiderSchema string

// InsiderSchema returns the embedded schema for the insider-trading store.
func InsiderSchema() string {
	return insiderSchema
}
