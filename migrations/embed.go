// Package migrations embeds the SQL schema so the bridge can migrate its
// database without the files being present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/webble-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.Migrations = database.Source{FS: migrationsFS, Dir: "."}
}
