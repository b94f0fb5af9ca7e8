package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations in file name order.
type Migrator struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db, logger: logging.Default().WithComponent("migrate")}
}

// Migrate brings the store schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	return NewMigrator(s.db).Up(ctx)
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name VARCHAR(255) PRIMARY KEY,
			checksum VARCHAR(64) NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "create_migrations_table", err)
	}
	return nil
}

// appliedMigrations maps applied migration names to their checksums.
func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name     string `db:"name"`
		Checksum string `db:"checksum"`
	}
	if err := m.db.SelectContext(ctx, &rows, `SELECT name, checksum FROM schema_migrations`); err != nil {
		return nil, errors.WrapStoreError(errors.CodeMigration, "list_migrations", err)
	}

	applied := make(map[string]string, len(rows))
	for _, r := range rows {
		applied[r.Name] = r.Checksum
	}
	return applied, nil
}

func migrationNames() ([]string, error) {
	var files []string
	err := fs.WalkDir(migrationFiles, "migrations", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".sql") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (m *Migrator) apply(ctx context.Context, file, name, sum string, content []byte) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "begin_migration", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "apply_migration", fmt.Errorf("%s: %w", file, err))
	}

	insert := m.db.Rebind(`INSERT INTO schema_migrations (name, checksum, applied_at) VALUES (?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, name, sum, time.Now().UTC()); err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "record_migration", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "commit_migration", err)
	}
	return nil
}

// Up runs all pending migrations. A previously applied migration whose
// content changed is reported instead of being re-run.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := migrationNames()
	if err != nil {
		return errors.WrapStoreError(errors.CodeMigration, "read_migrations", err)
	}

	for _, file := range files {
		content, err := migrationFiles.ReadFile(file)
		if err != nil {
			return errors.WrapStoreError(errors.CodeMigration, "read_migrations", err)
		}
		name := strings.TrimSuffix(path.Base(file), ".sql")
		sum := checksum(content)

		if prev, ok := applied[name]; ok {
			if prev != sum {
				storeErr := errors.WrapStoreError(errors.CodeMigration, "verify_migration",
					fmt.Errorf("checksum mismatch for %s", name))
				storeErr.Message = "applied migration was modified"
				return storeErr
			}
			m.logger.Debug("migration already applied", "migration", name)
			continue
		}

		if err := m.apply(ctx, file, name, sum, content); err != nil {
			return err
		}
		m.logger.Info("migration applied", "migration", name)
	}

	return nil
}
