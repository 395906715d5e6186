// Package appfs embeds the static files shipped with the binaries:
// database migrations, email templates, the course template catalog and the common passwords list.
package appfs

import "embed"

//go:embed migrations/*.sql templates/email/* catalog/*.yaml common-passwords.txt.gz
var FS embed.FS
