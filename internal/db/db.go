package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"rootra/internal/migrate"
)

// WorkspaceDir returns the rootra state directory under root, creating it if
// needed.
func WorkspaceDir(root string) (string, error) {
	dir := filepath.Join(root, ".rootra")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}
	return dir, nil
}

// Path returns the SQLite database path for a workspace root.
func Path(root string) string {
	return filepath.Join(root, ".rootra", "rootra.db")
}

// Open opens (creating if necessary) the workspace database and applies
// pending migrations. Foreign keys and WAL are enabled; busy_timeout keeps
// concurrent writers from failing fast under SQLite's single-writer lock.
func Open(ctx context.Context, root string) (*sql.DB, error) {
	if _, err := WorkspaceDir(root); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", Path(root))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Apply(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
