// Package sqlite persists actor health snapshots in SQLite so a restarted
// server can restore pools and death state.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vitals/server/internal/death"
	"vitals/server/internal/replication"
	"vitals/server/internal/storage/sqlite/migrations"
)

// ErrNotFound is returned when no snapshot exists for an actor.
var ErrNotFound = errors.New("snapshot not found")

// Store persists replication snapshots.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens the database at path and applies the embedded migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save upserts the snapshot. A stored snapshot with a higher version wins.
func (s *Store) Save(ctx context.Context, snap replication.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.save(ctx, s.sqlDB, snap)
}

// SaveAll writes every snapshot in one transaction.
func (s *Store) SaveAll(ctx context.Context, snaps []replication.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	for _, snap := range snaps {
		if err := s.save(ctx, tx, snap); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, db execer, snap replication.Snapshot) error {
	actorID := strings.TrimSpace(snap.ActorID)
	if actorID == "" {
		return fmt.Errorf("actor id is required")
	}
	if !snap.DeathState.Valid() {
		return fmt.Errorf("invalid death state %d", snap.DeathState)
	}
	encoded, err := json.Marshal(snap.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO actor_snapshots (actor_id, version, death_state, template, attributes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(actor_id) DO UPDATE SET
		   version = excluded.version,
		   death_state = excluded.death_state,
		   template = excluded.template,
		   attributes = excluded.attributes,
		   updated_at = excluded.updated_at
		 WHERE excluded.version >= actor_snapshots.version`,
		actorID,
		int64(snap.Version),
		snap.DeathState.String(),
		snap.Template,
		string(encoded),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", actorID, err)
	}
	return nil
}

// Load returns the stored snapshot for actorID.
func (s *Store) Load(ctx context.Context, actorID string) (replication.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return replication.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return replication.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT actor_id, version, death_state, template, attributes
		 FROM actor_snapshots WHERE actor_id = ?`,
		strings.TrimSpace(actorID),
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return replication.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return replication.Snapshot{}, fmt.Errorf("load snapshot %s: %w", actorID, err)
	}
	return snap, nil
}

// List returns every stored snapshot ordered by actor id.
func (s *Store) List(ctx context.Context) ([]replication.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT actor_id, version, death_state, template, attributes
		 FROM actor_snapshots ORDER BY actor_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []replication.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// Delete removes the snapshot for actorID. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM actor_snapshots WHERE actor_id = ?`, strings.TrimSpace(actorID)); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", actorID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (replication.Snapshot, error) {
	var (
		snap       replication.Snapshot
		version    int64
		deathState string
		encoded    string
	)
	if err := row.Scan(&snap.ActorID, &version, &deathState, &snap.Template, &encoded); err != nil {
		return replication.Snapshot{}, err
	}
	state, err := death.ParseState(deathState)
	if err != nil {
		return replication.Snapshot{}, err
	}
	snap.DeathState = state
	snap.Version = uint64(version)
	if err := json.Unmarshal([]byte(encoded), &snap.Attributes); err != nil {
		return replication.Snapshot{}, fmt.Errorf("decode attributes: %w", err)
	}
	return snap, nil
}

const migrationTable = "schema_migrations"

// applyMigrations runs each embedded .sql file at most once, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var count int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, file).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the statements between "-- +migrate Up" and an optional
// "-- +migrate Down" marker.
func upSection(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	if idx := strings.Index(content, upMarker); idx >= 0 {
		content = content[idx+len(upMarker):]
	}
	if idx := strings.Index(content, downMarker); idx >= 0 {
		content = content[:idx]
	}
	return content
}
