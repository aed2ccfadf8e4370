package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dbTimeout = 12 * time.Second

var schemaNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type DBConfig struct {
	URL    string
	Schema string
	Tag    string
}

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !schemaNameRe.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

// openDB connects with search_path pinned to the audit schema, creating the
// schema if needed.
func openDB(ctx context.Context, cfg DBConfig) (*sql.DB, string, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return nil, "", err
	}
	connConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("parse database url: %w", err)
	}
	connConfig.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*connConfig)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, schema, nil
}

// newMigrator owns db; closing the migrator closes db.
func newMigrator(db *sql.DB, schema string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{SchemaName: schema})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

type migrateAction int

const (
	migrateUp migrateAction = iota
	migrateDown
	migrateVersion
)

// runMigrations applies action on a dedicated connection and returns the
// resulting schema version.
func runMigrations(ctx context.Context, cfg DBConfig, action migrateAction) (uint, bool, error) {
	db, schema, err := openDB(ctx, cfg)
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(db, schema)
	if err != nil {
		db.Close()
		return 0, false, err
	}
	defer m.Close()

	switch action {
	case migrateUp:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return 0, false, fmt.Errorf("run up migrations: %w", err)
		}
	case migrateDown:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return 0, false, fmt.Errorf("run down migrations: %w", err)
		}
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// storeReports migrates the schema and stores each report as its own run.
func storeReports(ctx context.Context, cfg DBConfig, reports []*Report) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, _, err := runMigrations(ctx, cfg, migrateUp); err != nil {
		return nil, err
	}

	db, _, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ids := make([]string, 0, len(reports))
	for _, report := range reports {
		id, err := storeReportTx(ctx, db, report, cfg.Tag)
		if err != nil {
			return ids, fmt.Errorf("store %s: %w", report.Source, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func storeReportTx(ctx context.Context, db *sql.DB, report *Report, tag string) (string, error) {
	runID := uuid.New()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, source, sheet, profile, records, viewed,
			scope_known, scope_unknown, scope_total, out_of_order,
			run_tag, run_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,
			$11,$12
		)`,
		runID,
		report.Source,
		nullString(report.Sheet),
		report.Profile,
		report.Records,
		report.Viewed,
		report.Scope.Known,
		report.Scope.Unknown,
		report.Scope.Total,
		report.OutOfOrder,
		nullString(tag),
		report.RunAt,
	)
	if err != nil {
		return "", err
	}

	const insertScope = `INSERT INTO run_scope_counts (id, run_id, category, record_count) VALUES ($1,$2,$3,$4)`
	scopes := append(append([]CountEntry{}, report.Scope.Entries...), CountEntry{Key: scopeUnknown, Count: report.Scope.Unknown})
	for _, entry := range scopes {
		if _, err = tx.ExecContext(ctx, insertScope, uuid.New(), runID, entry.Key, entry.Count); err != nil {
			return "", err
		}
	}

	const insertMilestone = `
		INSERT INTO run_milestones (
			id, run_id, name, header, resolved, filled,
			not_started, on_progress, done
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9
		)`
	for _, m := range report.Milestones {
		_, err = tx.ExecContext(ctx, insertMilestone,
			uuid.New(),
			runID,
			m.Name,
			nullString(m.Header),
			m.Resolved,
			m.Filled,
			m.NotStarted,
			m.OnProgress,
			m.Done,
		)
		if err != nil {
			return "", err
		}
	}

	const insertBreakdown = `INSERT INTO run_breakdowns (id, run_id, field, value, record_count) VALUES ($1,$2,$3,$4,$5)`
	for _, b := range report.Breakdowns {
		for _, entry := range b.Entries {
			if _, err = tx.ExecContext(ctx, insertBreakdown, uuid.New(), runID, b.Field, entry.Key, entry.Count); err != nil {
				return "", err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return runID.String(), nil
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
