// Package runs stores the history of optimizer runs served by the API.
package runs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind names the operation a run performed.
type Kind string

const (
	KindAllocate Kind = "allocate"
	KindFrontier Kind = "frontier"
	KindSweep    Kind = "sweep"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one stored optimizer run. Payload holds msgpack-encoded data whose
// shape depends on Kind.
type Run struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Status     string    `json:"status"`
	AssetCount int       `json:"asset_count"`
	Summary    string    `json:"summary,omitempty"`
	Payload    []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Decode unpacks the payload into v.
func (r *Run) Decode(v any) error {
	if err := msgpack.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode run %s payload: %w", r.ID, err)
	}
	return nil
}

// Repository handles CRUD operations for runs.
// Database: runs.db (runs table)
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new run repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repository", "runs").Logger(),
	}
}

// Create encodes payload with msgpack, stores the run and returns its ID.
func (r *Repository) Create(kind Kind, status string, assetCount int, summary string, payload any) (string, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode run payload: %w", err)
	}

	id := uuid.New().String()
	_, err = r.db.Exec(`
		INSERT INTO runs (id, kind, status, asset_count, summary, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		string(kind),
		status,
		assetCount,
		summary,
		data,
		r.now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	r.log.Debug().Str("id", id).Str("kind", string(kind)).Str("status", status).Msg("Run stored")
	return id, nil
}

// GetByID returns a run including its payload.
func (r *Repository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, kind, status, asset_count, summary, payload, created_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns the newest runs first, without payloads. An empty kind lists every kind.
func (r *Repository) List(kind Kind, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, kind, status, asset_count, summary, created_at FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes runs created before cutoff and returns how many were removed.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	return deleted, nil
}

// Count returns the number of stored runs.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func scanRun(scan func(dest ...any) error, withPayload bool) (*Run, error) {
	var run Run
	var kind string
	var createdAt int64
	var err error
	if withPayload {
		err = scan(&run.ID, &kind, &run.Status, &run.AssetCount, &run.Summary, &run.Payload, &createdAt)
	} else {
		err = scan(&run.ID, &kind, &run.Status, &run.AssetCount, &run.Summary, &createdAt)
	}
	if err != nil {
		return nil, err
	}
	run.Kind = Kind(kind)
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &run, nil
}
