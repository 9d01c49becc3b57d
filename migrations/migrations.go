// Package migrations embeds the SQL schema for the postgres backend.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

const (
	Up   = "up"
	Down = "down"
)

// Files lists the migration file names for direction, in the order they run.
func Files(direction string) ([]string, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("direction must be %q or %q, got %q", Up, Down, direction)
	}

	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fmt.Sprintf(".%s.sql", direction)) {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}

	sort.Strings(migrationFiles)
	if direction == Down {
		for i, j := 0, len(migrationFiles)-1; i < j; i, j = i+1, j-1 {
			migrationFiles[i], migrationFiles[j] = migrationFiles[j], migrationFiles[i]
		}
	}

	return migrationFiles, nil
}

// Run executes every migration for direction. onFile, if set, is called
// before each file runs.
func Run(ctx context.Context, db *sql.DB, direction string, onFile func(name string)) (int, error) {
	migrationFiles, err := Files(direction)
	if err != nil {
		return 0, err
	}

	for _, filename := range migrationFiles {
		content, err := fs.ReadFile(files, filename)
		if err != nil {
			return 0, fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if onFile != nil {
			onFile(filename)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return len(migrationFiles), nil
}
