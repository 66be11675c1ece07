package appfs

import "embed"

// FS holds the database migrations and the static assets (email templates, password lists).
//
//go:embed migrations/*.sql all:assets
var FS embed.FS
