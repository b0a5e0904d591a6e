// Package store keeps finalized indicator tables and run metadata in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"healthcli/pkg/contracts/domain"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested country or run is not stored.
var ErrNotFound = errors.New("not found")

// timeLayout has fixed width so stored UTC timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var reservedTables = []string{"indicator_tables", "pipeline_runs"}

// CountryInfo describes a stored country table.
type CountryInfo struct {
	Country   string    `json:"country"`
	Columns   []string  `json:"columns"`
	Rows      int       `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLiteStore persists one table per country, named after the country, plus
// a pipeline_runs log.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serialises writers from concurrent runs.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name implements dataprocessing.Sink
func (s *SQLiteStore) Name() string { return "sqlite" }

// Write replaces the country's table in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, country string, t *domain.Table) error {
	if len(t.Columns) == 0 || t.Columns[0] != domain.YearColumn {
		return fmt.Errorf("table for %s has no %s column", country, domain.YearColumn)
	}
	if err := checkTableName(country); err != nil {
		return err
	}
	columnsJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("encoding columns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	table := quoteIdent(country)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("dropping %s: %w", country, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, t.Columns)); err != nil {
		return fmt.Errorf("creating %s: %w", country, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, t.Columns))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(t.Columns))
	for _, row := range t.Rows {
		args[0] = row.Year
		for i, v := range row.Values {
			if v.Valid {
				args[i+1] = v.Float
			} else {
				args[i+1] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting %s year %d: %w", country, row.Year, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO indicator_tables (country, table_name, columns, row_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(country) DO UPDATE SET
			columns = excluded.columns,
			row_count = excluded.row_count,
			updated_at = excluded.updated_at`,
		country, country, string(columnsJSON), t.Len(), s.now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("updating catalog: %w", err)
	}

	return tx.Commit()
}

// RecordRun implements dataprocessing.RunRecorder
func (s *SQLiteStore) RecordRun(ctx context.Context, run domain.RunRecord) error {
	digests, err := json.Marshal(run.Digests)
	if err != nil {
		return fmt.Errorf("encoding digests: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, country, world_bank_name, row_count, started_at, finished_at, digests)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Country, run.WorldBankName, run.Rows,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		string(digests))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// ListCountries returns every stored country ordered by name.
func (s *SQLiteStore) ListCountries(ctx context.Context) ([]CountryInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT country, columns, row_count, updated_at FROM indicator_tables ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("listing countries: %w", err)
	}
	defer rows.Close()

	var out []CountryInfo
	for rows.Next() {
		info, err := scanCountry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Country returns the catalog entry for one country.
func (s *SQLiteStore) Country(ctx context.Context, country string) (CountryInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT country, columns, row_count, updated_at FROM indicator_tables WHERE country = ?`, country)
	info, err := scanCountry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CountryInfo{}, fmt.Errorf("country %q: %w", country, ErrNotFound)
	}
	return info, err
}

// LoadTable reads a stored table, optionally restricted to years in
// [from, to]. A zero bound is open.
func (s *SQLiteStore) LoadTable(ctx context.Context, country string, from, to int) (*domain.Table, error) {
	info, err := s.Country(ctx, country)
	if err != nil {
		return nil, err
	}

	quoted := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		quoted[i] = quoteIdent(c)
	}
	year := quoteIdent(domain.YearColumn)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", strings.Join(quoted, ", "), quoteIdent(country))
	var args []interface{}
	if from != 0 {
		query += " AND " + year + " >= ?"
		args = append(args, from)
	}
	if to != 0 {
		query += " AND " + year + " <= ?"
		args = append(args, to)
	}
	query += " ORDER BY " + year

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", country, err)
	}
	defer rows.Close()

	t := &domain.Table{Columns: info.Columns}
	dest := make([]interface{}, len(info.Columns))
	var yearVal int
	values := make([]sql.NullFloat64, len(info.Columns)-1)
	dest[0] = &yearVal
	for i := range values {
		dest[i+1] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", country, err)
		}
		row := make([]domain.Value, len(values))
		for i, v := range values {
			row[i] = domain.Value{Float: v.Float64, Valid: v.Valid}
		}
		t.AddRow(yearVal, row...)
	}
	return t, rows.Err()
}

// LatestRun returns the most recently finished run for a country.
func (s *SQLiteStore) LatestRun(ctx context.Context, country string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, country, world_bank_name, row_count, started_at, finished_at, digests
		FROM pipeline_runs WHERE country = ?
		ORDER BY finished_at DESC LIMIT 1`, country)

	var (
		run               domain.RunRecord
		started, finished string
		digests           string
	)
	err := row.Scan(&run.ID, &run.Country, &run.WorldBankName, &run.Rows, &started, &finished, &digests)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runs for %q: %w", country, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest run: %w", err)
	}

	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(digests), &run.Digests); err != nil {
		return nil, fmt.Errorf("decoding digests: %w", err)
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCountry(sc scanner) (CountryInfo, error) {
	var (
		info    CountryInfo
		columns string
		updated string
	)
	if err := sc.Scan(&info.Country, &columns, &info.Rows, &updated); err != nil {
		return CountryInfo{}, err
	}
	if err := json.Unmarshal([]byte(columns), &info.Columns); err != nil {
		return CountryInfo{}, fmt.Errorf("decoding columns for %s: %w", info.Country, err)
	}
	t, err := time.Parse(timeLayout, updated)
	if err != nil {
		return CountryInfo{}, fmt.Errorf("parsing updated_at for %s: %w", info.Country, err)
	}
	info.UpdatedAt = t
	return info, nil
}

func checkTableName(country string) error {
	name := strings.ToLower(strings.TrimSpace(country))
	if name == "" || strings.HasPrefix(name, "sqlite_") {
		return fmt.Errorf("invalid country table name %q", country)
	}
	for _, r := range reservedTables {
		if name == r {
			return fmt.Errorf("country name %q collides with an internal table", country)
		}
	}
	return nil
}

// quoteIdent quotes an SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func createTableSQL(table string, columns []string) string {
	defs := make([]string, len(columns))
	defs[0] = quoteIdent(columns[0]) + " INTEGER PRIMARY KEY"
	for i, c := range columns[1:] {
		defs[i+1] = quoteIdent(c) + " REAL"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
}
