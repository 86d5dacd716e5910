// Package store owns the relay's SQLite-backed relational schema: opening/creating the database file, running
// migrations, and exposing one repository per aggregate in the data model.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// execer is the subset of *sql.DB / *sql.Tx every repository needs. Repositories are bound to an execer rather than
// a concrete *sql.DB so the same repository type can run either against the shared connection or inside a
// transaction opened by WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the idempotent entry point described in the data-store component: it opens (or creates) the database
// file, enables foreign-key enforcement, and runs every outstanding migration. Calling Open twice against the same
// path is a no-op for data.
type Store struct {
	DB            *sql.DB
	Agents        *AgentRepository
	Contacts      *ContactRepository
	Blocks        *BlockRepository
	Verifications *VerificationRepository
	Admins        *AdminRepository
	Broadcasts    *BroadcastRepository
	Groups        *GroupRepository
	Memberships   *MembershipRepository
}

// bind constructs the full set of repositories against any execer (the shared *sql.DB or a *sql.Tx).
func bind(db execer) *Store {
	return &Store{
		Agents:        &AgentRepository{db: db},
		Contacts:      &ContactRepository{db: db},
		Blocks:        &BlockRepository{db: db},
		Verifications: &VerificationRepository{db: db},
		Admins:        &AdminRepository{db: db},
		Broadcasts:    &BroadcastRepository{db: db},
		Groups:        &GroupRepository{db: db},
		Memberships:   &MembershipRepository{db: db},
	}
}

// Open creates or opens the SQLite database at path, applies pragmas, runs migrations, and wires every repository.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single shared connection avoids "database is locked" errors under modernc.org/sqlite, which does not support
	// concurrent writers on one file the way a server database does.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	s := bind(db)
	s.DB = db
	return s, nil
}

func migrate(db *sql.DB, logger zerolog.Logger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&gooseLogger{logger: logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// gooseLogger adapts zerolog to goose's minimal logger interface so migration output flows through the same
// structured logger as the rest of the relay.
type gooseLogger struct {
	logger zerolog.Logger
}

func (g *gooseLogger) Fatalf(format string, args ...interface{}) {
	g.logger.Fatal().Msgf(format, args...)
}

func (g *gooseLogger) Printf(format string, args ...interface{}) {
	g.logger.Info().Msgf(format, args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling back on any returned error or panic. fn
// receives a *Store whose repositories all run against the same transaction, so multi-statement operations (group
// dissolution, revoke+broadcast, batch contact requests) are atomic.
func (s *Store) WithTx(ctx context.Context, fn func(txs *Store) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(bind(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
