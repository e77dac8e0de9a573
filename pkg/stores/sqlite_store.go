package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/openfroyo/launchpad/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// inMemory reports whether the database lives only in the connection.
func (c Config) inMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a new empty database.
	if cfg.inMemory() {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !s.cfg.inMemory() {
		pragmas += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", s.cfg.Path+sep+pragmas)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func notFound(kind, id string) error {
	return engine.NewPermanentError(kind+" not found: "+id, nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(id)
}

// UpsertEvaluator inserts an evaluator or updates its state. An empty
// application id keeps the stored one.
func (s *SQLiteStore) UpsertEvaluator(ctx context.Context, e *Evaluator) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO evaluators (id, application_id, state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			application_id = CASE WHEN excluded.application_id = '' THEN evaluators.application_id ELSE excluded.application_id END,
			state = excluded.state,
			last_error = COALESCE(excluded.last_error, evaluators.last_error),
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ApplicationID,
		e.State,
		e.LastError,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert evaluator: %w", err)
	}

	return nil
}

// GetEvaluator retrieves an evaluator by ID
func (s *SQLiteStore) GetEvaluator(ctx context.Context, id string) (*Evaluator, error) {
	query := `
		SELECT id, application_id, state, last_error, created_at, updated_at
		FROM evaluators
		WHERE id = ?
	`

	e := &Evaluator{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID,
		&e.ApplicationID,
		&e.State,
		&e.LastError,
		&e.CreatedAt,
		&e.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("evaluator", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluator: %w", err)
	}

	return e, nil
}

// ListEvaluators lists evaluators, optionally in one state, newest first
func (s *SQLiteStore) ListEvaluators(ctx context.Context, state *string, limit, offset int) ([]*Evaluator, error) {
	query := `
		SELECT id, application_id, state, last_error, created_at, updated_at
		FROM evaluators
		WHERE (? IS NULL OR state = ?)
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, state, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluators: %w", err)
	}
	defer rows.Close()

	evaluators := []*Evaluator{}
	for rows.Next() {
		e := &Evaluator{}
		if err := rows.Scan(
			&e.ID,
			&e.ApplicationID,
			&e.State,
			&e.LastError,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluator: %w", err)
		}
		evaluators = append(evaluators, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluators: %w", err)
	}

	return evaluators, nil
}

// CreateLaunch records a launch. A second launch for the same evaluator
// fails with ALREADY_EXISTS.
func (s *SQLiteStore) CreateLaunch(ctx context.Context, l *Launch) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt
	if l.Status == "" {
		l.Status = LaunchStatusPending
	}

	query := `
		INSERT INTO launches (
			evaluator_id, process_type, memory_mb, file_count, dispatcher,
			status, descriptor, error, created_at, updated_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(evaluator_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		l.EvaluatorID,
		l.ProcessType,
		l.MemoryMB,
		l.FileCount,
		l.Dispatcher,
		l.Status,
		l.Descriptor,
		l.Error,
		l.CreatedAt,
		l.UpdatedAt,
		l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create launch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewConflictError("launch already recorded for evaluator: "+l.EvaluatorID, nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(l.EvaluatorID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get launch ID: %w", err)
	}
	l.ID = id

	return nil
}

const launchColumns = `
	id, evaluator_id, process_type, memory_mb, file_count, dispatcher,
	status, descriptor, error, created_at, updated_at, completed_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (*Launch, error) {
	l := &Launch{}
	err := row.Scan(
		&l.ID,
		&l.EvaluatorID,
		&l.ProcessType,
		&l.MemoryMB,
		&l.FileCount,
		&l.Dispatcher,
		&l.Status,
		&l.Descriptor,
		&l.Error,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.CompletedAt,
	)
	return l, err
}

// GetLaunch retrieves the launch of an evaluator
func (s *SQLiteStore) GetLaunch(ctx context.Context, evaluatorID string) (*Launch, error) {
	query := `SELECT ` + launchColumns + ` FROM launches WHERE evaluator_id = ?`

	l, err := scanLaunch(s.db.QueryRowContext(ctx, query, evaluatorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("launch", evaluatorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get launch: %w", err)
	}

	return l, nil
}

// UpdateLaunchStatus updates the status of a launch. Final statuses stamp
// completed_at.
func (s *SQLiteStore) UpdateLaunchStatus(ctx context.Context, evaluatorID string, status LaunchStatus, errMsg *string) error {
	query := `
		UPDATE launches
		SET status = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE evaluator_id = ?
	`

	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsFinal() {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, now, completedAt, evaluatorID)
	if err != nil {
		return fmt.Errorf("failed to update launch status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("launch", evaluatorID)
	}

	return nil
}

// ListLaunches lists launches, optionally with one status, newest first
func (s *SQLiteStore) ListLaunches(ctx context.Context, status *LaunchStatus, limit, offset int) ([]*Launch, error) {
	query := `
		SELECT ` + launchColumns + `
		FROM launches
		WHERE (? IS NULL OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer rows.Close()

	launches := []*Launch{}
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		launches = append(launches, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating launches: %w", err)
	}

	return launches, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, evaluator_id, type, level, source, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.EvaluatorID,
		event.Type,
		event.Level,
		event.Source,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, evaluatorID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, evaluator_id, type, level, source, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR evaluator_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, evaluatorID, evaluatorID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.EvaluatorID,
			&event.Type,
			&event.Level,
			&event.Source,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
