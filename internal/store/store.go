// Package store persists the curriculum, the coverage analysis, day plans,
// the per-day notified set and a delivery log in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed document names.
const (
	CurriculumDoc = "curriculum.json"
	CoverageDoc   = "coverage_analysis.json"
)

const dbFile = "studycal.db"

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) dataDir/studycal.db and runs migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; the daemon loop is the only mutator anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	_ = os.Chmod(dbPath, 0o600)
	return &Store{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// gooseLogger routes migration output to the application log.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	appLog.Debug("migrate", "msg", fmt.Sprintf(format, v...))
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	appLog.Error("migrate", fmt.Errorf(format, v...))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetDocument returns a named document. ok is false when it does not exist.
func (s *Store) GetDocument(ctx context.Context, name string) (body []byte, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewPersistenceFailure("read "+name, err)
	}
	return body, true, nil
}

// PutDocument replaces a named document.
func (s *Store) PutDocument(ctx context.Context, name string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		name, body, s.now().Unix())
	if err != nil {
		return apperrors.NewPersistenceFailure("write "+name, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, name string, v any) (bool, error) {
	body, ok, err := s.GetDocument(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, apperrors.NewPersistenceFailure("decode "+name, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, name string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceFailure("encode "+name, err)
	}
	return s.PutDocument(ctx, name, body)
}

// LoadCurriculum returns the persisted curriculum document, if any.
func (s *Store) LoadCurriculum(ctx context.Context) (curriculum.Document, bool, error) {
	var doc curriculum.Document
	ok, err := s.getJSON(ctx, CurriculumDoc, &doc)
	return doc, ok, err
}

func (s *Store) SaveCurriculum(ctx context.Context, doc curriculum.Document) error {
	return s.putJSON(ctx, CurriculumDoc, doc)
}

// LoadCoverage returns the persisted coverage analysis, if any.
func (s *Store) LoadCoverage(ctx context.Context) (*model.CoverageReport, bool, error) {
	var r model.CoverageReport
	ok, err := s.getJSON(ctx, CoverageDoc, &r)
	if !ok {
		return nil, false, err
	}
	return &r, true, nil
}

func (s *Store) SaveCoverage(ctx context.Context, r *model.CoverageReport) error {
	return s.putJSON(ctx, CoverageDoc, r)
}

// SavePlan stores the plan for the given date key, replacing any earlier one.
func (s *Store) SavePlan(ctx context.Context, date string, plan *model.DayPlan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return apperrors.NewPersistenceFailure("encode plan", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO day_plans (date, plan_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET plan_json = excluded.plan_json, created_at = excluded.created_at`,
		date, body, s.now().Unix())
	if err != nil {
		return apperrors.NewPersistenceFailure("write plan "+date, err)
	}
	return nil
}

// LoadPlan returns the stored plan for a date key.
func (s *Store) LoadPlan(ctx context.Context, date string) (*model.DayPlan, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT plan_json FROM day_plans WHERE date = ?`, date).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewPersistenceFailure("read plan "+date, err)
	}

	var plan model.DayPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		return nil, false, apperrors.NewPersistenceFailure("decode plan "+date, err)
	}
	return &plan, true, nil
}
