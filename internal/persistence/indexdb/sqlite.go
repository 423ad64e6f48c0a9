// Package indexdb keeps the list of exercises, their ids and their latest
// stored export in a SQL database (SQLite by default, Postgres optionally).
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("exercise not found")

// Dialect differs only in bind parameters.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// rebind turns ?-placeholders into $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Exercise is one row of the index.
type Exercise struct {
	ParticipantID string
	TrainerID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DataVersion   int
	SnapshotPath  string
	CurrentTime   int64
	ActionCount   uint64
}

type progressRow struct {
	ParticipantID string
	SnapshotPath  string
	CurrentTime   int64
	ActionCount   uint64
	RecordedAt    time.Time
}

// Store is safe for concurrent use. Progress records go through a bounded
// queue handled by one writer goroutine; the export files stay the source of
// truth if the queue overflows.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger

	ch   chan progressRow
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropTotal atomic.Uint64
}

var sqlOpen = sql.Open

// OpenSQLite opens (and creates) a SQLite index at path.
func OpenSQLite(path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlOpen("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(context.Background(), db, SQLite, log)
}

// OpenPostgres opens a Postgres index through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(ctx, db, Postgres, log)
}

// Open picks the driver by name: "sqlite" (dsn is a file path) or
// "postgres".
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(dsn, log)
	case "postgres", "pgx":
		return OpenPostgres(ctx, dsn, log)
	}
	return nil, fmt.Errorf("unknown index driver %q", driver)
}

// New wraps an open database, creates the schema and starts the writer.
func New(ctx context.Context, db *sql.DB, d Dialect, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: d,
		log:     log,
		ch:      make(chan progressRow, 1024),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exercises (
			participant_id TEXT PRIMARY KEY,
			trainer_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			data_version INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			current_time_ms BIGINT NOT NULL,
			action_count BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			participant_id TEXT NOT NULL,
			action_count BIGINT NOT NULL,
			path TEXT NOT NULL,
			current_time_ms BIGINT NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (participant_id, action_count)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the database for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// CreateExercise inserts a new exercise. Both ids must be unused.
func (s *Store) CreateExercise(ctx context.Context, e Exercise) error {
	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO exercises(participant_id,trainer_id,created_at,updated_at,data_version,snapshot_path,current_time_ms,action_count)
		 VALUES(?,?,?,?,?,?,?,?)`),
		e.ParticipantID, e.TrainerID, now, now, e.DataVersion, e.SnapshotPath, e.CurrentTime, int64(e.ActionCount))
	if err != nil {
		return fmt.Errorf("insert exercise %s: %w", e.ParticipantID, err)
	}
	return nil
}

// IDInUse reports whether id is the participant or trainer id of any
// exercise.
func (s *Store) IDInUse(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COUNT(*) FROM exercises WHERE participant_id=? OR trainer_id=?`), id, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const exerciseColumns = `participant_id,trainer_id,created_at,updated_at,data_version,snapshot_path,current_time_ms,action_count`

func scanExercise(row interface{ Scan(...any) error }) (Exercise, error) {
	var (
		e     Exercise
		count int64
	)
	err := row.Scan(&e.ParticipantID, &e.TrainerID, &e.CreatedAt, &e.UpdatedAt, &e.DataVersion, &e.SnapshotPath, &e.CurrentTime, &count)
	e.ActionCount = uint64(count)
	return e, err
}

// Lookup finds an exercise by its participant or trainer id.
func (s *Store) Lookup(ctx context.Context, id string) (Exercise, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+exerciseColumns+` FROM exercises WHERE participant_id=? OR trainer_id=?`), id, id)
	e, err := scanExercise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Exercise{}, ErrNotFound
	}
	if err != nil {
		return Exercise{}, fmt.Errorf("lookup exercise %s: %w", id, err)
	}
	return e, nil
}

// List returns all exercises ordered by participant id.
func (s *Store) List(ctx context.Context) ([]Exercise, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+exerciseColumns+` FROM exercises ORDER BY participant_id`)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Exercise
	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an exercise and its snapshot records.
func (s *Store) Delete(ctx context.Context, participantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM snapshots WHERE participant_id=?`), participantID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM exercises WHERE participant_id=?`), participantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// RecordSnapshot queues a stored export of an exercise. It never blocks; a
// full queue drops the record.
func (s *Store) RecordSnapshot(participantID, path string, currentTime int64, actionCount uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	r := progressRow{
		ParticipantID: participantID,
		SnapshotPath:  path,
		CurrentTime:   currentTime,
		ActionCount:   actionCount,
		RecordedAt:    time.Now().UTC(),
	}
	select {
	case s.ch <- r:
	default:
		s.dropTotal.Add(1)
	}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
}

func (s *Store) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
	}
}

func (s *Store) loop() {
	ctx := context.Background()
	for r := range s.ch {
		if err := s.writeSnapshot(ctx, r); err != nil {
			s.log.Error("record snapshot failed",
				zap.String("exercise_id", r.ParticipantID),
				zap.String("path", r.SnapshotPath),
				zap.Error(err))
		}
	}
}

func (s *Store) writeSnapshot(ctx context.Context, r progressRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO snapshots(participant_id,action_count,path,current_time_ms,recorded_at) VALUES(?,?,?,?,?)
		 ON CONFLICT (participant_id,action_count) DO UPDATE SET path=excluded.path, current_time_ms=excluded.current_time_ms, recorded_at=excluded.recorded_at`),
		r.ParticipantID, int64(r.ActionCount), r.SnapshotPath, r.CurrentTime, r.RecordedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE exercises SET snapshot_path=?, current_time_ms=?, action_count=?, updated_at=? WHERE participant_id=?`),
		r.SnapshotPath, r.CurrentTime, int64(r.ActionCount), r.RecordedAt, r.ParticipantID); err != nil {
		return err
	}
	return tx.Commit()
}
