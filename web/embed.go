package web

import "embed"

// FS holds the live chart page served by the dashboard.
//
//go:embed *.html *.css *.js
var FS embed.FS
