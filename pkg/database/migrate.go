package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	dbsql "github.com/deepugangadhar46/protego/pkg/database/sql"
	"github.com/deepugangadhar46/protego/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order. Every
// statement is idempotent, so this runs on each startup.
func ApplySchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	files, err := fs.Glob(dbsql.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := dbsql.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply schema %s: %w", name, err)
		}
		logger.WithField("schema", name).Debug("Applied schema file")
	}
	return nil
}
