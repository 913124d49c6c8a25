package migrations

import "embed"

// Files exposes embedded SQL migration files, one directory per dialect,
// applied in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
