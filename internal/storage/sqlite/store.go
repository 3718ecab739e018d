// Package sqlite provides the default file-backed archive store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER NOT NULL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	thumbnail TEXT NOT NULL,
	added_by TEXT NOT NULL,
	added_by_display_name TEXT NOT NULL,
	added_date TEXT NOT NULL,
	expiry_date TEXT NOT NULL,
	cpu INTEGER NOT NULL,
	total_ranking INTEGER NOT NULL,
	rent_count INTEGER NOT NULL,
	buy_count INTEGER NOT NULL,
	buyable INTEGER NOT NULL,
	featured INTEGER NOT NULL,
	combat_rating REAL NOT NULL,
	cosmetic_rating REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS record_details (
	id INTEGER NOT NULL PRIMARY KEY,
	cube_data TEXT NOT NULL,
	colour_data TEXT NOT NULL,
	cube_amounts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_state (
	id INTEGER NOT NULL PRIMARY KEY,
	next_page INTEGER NOT NULL,
	last_page_size INTEGER NOT NULL,
	watermark INTEGER NOT NULL,
	sweep_top INTEGER NOT NULL DEFAULT 0
);
`

const recordColumns = `id, name, description, thumbnail, added_by, added_by_display_name,
	added_date, expiry_date, cpu, total_ranking, rent_count, buy_count,
	buyable, featured, combat_rating, cosmetic_rating`

const upsertRecordSQL = `
INSERT INTO records (` + recordColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	thumbnail = excluded.thumbnail,
	added_by = excluded.added_by,
	added_by_display_name = excluded.added_by_display_name,
	added_date = excluded.added_date,
	expiry_date = excluded.expiry_date,
	cpu = excluded.cpu,
	total_ranking = excluded.total_ranking,
	rent_count = excluded.rent_count,
	buy_count = excluded.buy_count,
	buyable = excluded.buyable,
	featured = excluded.featured,
	combat_rating = excluded.combat_rating,
	cosmetic_rating = excluded.cosmetic_rating`

const upsertDetailSQL = `
INSERT INTO record_details (id, cube_data, colour_data, cube_amounts)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	cube_data = excluded.cube_data,
	colour_data = excluded.colour_data,
	cube_amounts = excluded.cube_amounts`

// checkpointRowID is the primary key of the singleton crawl_state row.
const checkpointRowID = 0

// Config captures the parameters for the sqlite store.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store implements store.Repository on a local sqlite file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database file and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per run; a single connection also keeps transactions serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close: %v)", err, closeErr)
		}
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// EnsureSchema creates the archive tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertRecords writes the whole batch in one transaction.
func (s *Store) UpsertRecords(ctx context.Context, batch []store.Record) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
		if err != nil {
			return fmt.Errorf("prepare record upsert: %w", err)
		}
		defer stmt.Close() //nolint:errcheck // closed with the transaction
		for _, rec := range batch {
			if _, err := stmt.ExecContext(ctx, recordArgs(rec)...); err != nil {
				return fmt.Errorf("upsert record %d: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// UpsertRecordWithDetail writes metadata and detail for one id atomically.
func (s *Store) UpsertRecordWithDetail(ctx context.Context, rec store.Record, detail store.Detail) error {
	if rec.ID != detail.ID {
		return fmt.Errorf("detail id %d does not match record id %d", detail.ID, rec.ID)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertRecordSQL, recordArgs(rec)...); err != nil {
			return fmt.Errorf("upsert record %d: %w", rec.ID, err)
		}
		_, err := tx.ExecContext(ctx, upsertDetailSQL,
			detail.ID, detail.CubeData, detail.ColourData, detail.CubeAmounts)
		if err != nil {
			return fmt.Errorf("upsert detail %d: %w", detail.ID, err)
		}
		return nil
	})
}

// RecordsMissingDetail returns records without a detail row, lowest id first.
func (s *Store) RecordsMissingDetail(ctx context.Context) ([]store.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r
		WHERE NOT EXISTS (SELECT 1 FROM record_details d WHERE d.id = r.id)
		ORDER BY r.id ASC`
	return s.queryRecords(ctx, query)
}

// ListRecords returns every record, most recent (highest id) first.
func (s *Store) ListRecords(ctx context.Context) ([]store.Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id DESC`)
}

// MaxID returns the highest known record id.
func (s *Store) MaxID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, `SELECT MAX(id) FROM records`)
}

// MinDetailID returns the lowest id with a detail payload.
func (s *Store) MinDetailID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, `SELECT MIN(id) FROM record_details`)
}

// MaxDetailID returns the highest id with a detail payload.
func (s *Store) MaxDetailID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, `SELECT MAX(id) FROM record_details`)
}

// LoadCheckpoint reads the singleton checkpoint row.
func (s *Store) LoadCheckpoint(ctx context.Context) (store.Checkpoint, error) {
	var cp store.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT next_page, last_page_size, watermark, sweep_top FROM crawl_state WHERE id = ?`,
		checkpointRowID,
	).Scan(&cp.NextPage, &cp.PageSize, &cp.Watermark, &cp.SweepTop)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Checkpoint{}, store.ErrNotFound
		}
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint overwrites the singleton checkpoint row.
func (s *Store) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_state (id, next_page, last_page_size, watermark, sweep_top)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			next_page = excluded.next_page,
			last_page_size = excluded.last_page_size,
			watermark = excluded.watermark,
			sweep_top = excluded.sweep_top`,
		checkpointRowID, cp.NextPage, cp.PageSize, cp.Watermark, cp.SweepTop,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Description,
			&rec.ThumbnailURL,
			&rec.AddedBy,
			&rec.AddedByDisplayName,
			&rec.AddedDate,
			&rec.ExpiryDate,
			&rec.CPU,
			&rec.TotalRanking,
			&rec.RentCount,
			&rec.BuyCount,
			&rec.Buyable,
			&rec.Featured,
			&rec.CombatRating,
			&rec.CosmeticRating,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) queryBound(ctx context.Context, query string) (int64, bool, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("query bound: %w", err)
	}
	return id.Int64, id.Valid, nil
}

func recordArgs(rec store.Record) []any {
	return []any{
		rec.ID,
		rec.Name,
		rec.Description,
		rec.ThumbnailURL,
		rec.AddedBy,
		rec.AddedByDisplayName,
		rec.AddedDate,
		rec.ExpiryDate,
		rec.CPU,
		rec.TotalRanking,
		rec.RentCount,
		rec.BuyCount,
		rec.Buyable,
		rec.Featured,
		rec.CombatRating,
		rec.CosmeticRating,
	}
}
