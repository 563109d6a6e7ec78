// Package appfs embeds the database migrations and the static assets.
package appfs

import "embed"

//go:embed migrations assets assets/templates/email/_base.txt assets/templates/email/_base.gohtml
var FS embed.FS
