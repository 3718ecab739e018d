// Package postgres provides a Postgres-backed archive store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	thumbnail TEXT NOT NULL,
	added_by TEXT NOT NULL,
	added_by_display_name TEXT NOT NULL,
	added_date TEXT NOT NULL,
	expiry_date TEXT NOT NULL,
	cpu BIGINT NOT NULL,
	total_ranking BIGINT NOT NULL,
	rent_count BIGINT NOT NULL,
	buy_count BIGINT NOT NULL,
	buyable BOOLEAN NOT NULL,
	featured BOOLEAN NOT NULL,
	combat_rating DOUBLE PRECISION NOT NULL,
	cosmetic_rating DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS record_details (
	id BIGINT PRIMARY KEY,
	cube_data TEXT NOT NULL,
	colour_data TEXT NOT NULL,
	cube_amounts TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crawl_state (
	id INTEGER PRIMARY KEY,
	next_page BIGINT NOT NULL,
	last_page_size BIGINT NOT NULL,
	watermark BIGINT NOT NULL,
	sweep_top BIGINT NOT NULL DEFAULT 0
);`

const recordColumns = `id, name, description, thumbnail, added_by, added_by_display_name,
	added_date, expiry_date, cpu, total_ranking, rent_count, buy_count,
	buyable, featured, combat_rating, cosmetic_rating`

const upsertRecordSQL = `
INSERT INTO records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	thumbnail = EXCLUDED.thumbnail,
	added_by = EXCLUDED.added_by,
	added_by_display_name = EXCLUDED.added_by_display_name,
	added_date = EXCLUDED.added_date,
	expiry_date = EXCLUDED.expiry_date,
	cpu = EXCLUDED.cpu,
	total_ranking = EXCLUDED.total_ranking,
	rent_count = EXCLUDED.rent_count,
	buy_count = EXCLUDED.buy_count,
	buyable = EXCLUDED.buyable,
	featured = EXCLUDED.featured,
	combat_rating = EXCLUDED.combat_rating,
	cosmetic_rating = EXCLUDED.cosmetic_rating;`

const upsertDetailSQL = `
INSERT INTO record_details (id, cube_data, colour_data, cube_amounts)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	cube_data = EXCLUDED.cube_data,
	colour_data = EXCLUDED.colour_data,
	cube_amounts = EXCLUDED.cube_amounts;`

const (
	loadCheckpointSQL = `SELECT next_page, last_page_size, watermark, sweep_top FROM crawl_state WHERE id = $1;`
	saveCheckpointSQL = `
INSERT INTO crawl_state (id, next_page, last_page_size, watermark, sweep_top)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	next_page = EXCLUDED.next_page,
	last_page_size = EXCLUDED.last_page_size,
	watermark = EXCLUDED.watermark,
	sweep_top = EXCLUDED.sweep_top;`

	// Identifiers are non-negative, so -1 stands in for an empty table.
	maxIDSQL       = `SELECT COALESCE(MAX(id), -1) FROM records;`
	minDetailIDSQL = `SELECT COALESCE(MIN(id), -1) FROM record_details;`
	maxDetailIDSQL = `SELECT COALESCE(MAX(id), -1) FROM record_details;`

	listRecordsSQL    = `SELECT ` + recordColumns + ` FROM records ORDER BY id DESC;`
	missingDetailsSQL = `SELECT ` + recordColumns + ` FROM records r
WHERE NOT EXISTS (SELECT 1 FROM record_details d WHERE d.id = r.id)
ORDER BY r.id ASC;`
)

const checkpointRowID = 0

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Repository on Postgres.
type Store struct {
	pool pgxPool
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the archive tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertRecords writes the batch in a single transaction.
func (s *Store) UpsertRecords(ctx context.Context, batch []store.Record) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if _, err := tx.Exec(ctx, upsertRecordSQL, recordArgs(rec)...); err != nil {
				return fmt.Errorf("upsert record %d: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// UpsertRecordWithDetail writes metadata and detail atomically.
func (s *Store) UpsertRecordWithDetail(ctx context.Context, rec store.Record, detail store.Detail) error {
	if rec.ID != detail.ID {
		return fmt.Errorf("detail id %d does not match record id %d", detail.ID, rec.ID)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertRecordSQL, recordArgs(rec)...); err != nil {
			return fmt.Errorf("upsert record %d: %w", rec.ID, err)
		}
		if _, err := tx.Exec(ctx, upsertDetailSQL,
			detail.ID, detail.CubeData, detail.ColourData, detail.CubeAmounts,
		); err != nil {
			return fmt.Errorf("upsert detail %d: %w", detail.ID, err)
		}
		return nil
	})
}

// RecordsMissingDetail returns records lacking a detail row.
func (s *Store) RecordsMissingDetail(ctx context.Context) ([]store.Record, error) {
	return s.queryRecords(ctx, missingDetailsSQL)
}

// ListRecords returns all records, highest id first.
func (s *Store) ListRecords(ctx context.Context) ([]store.Record, error) {
	return s.queryRecords(ctx, listRecordsSQL)
}

// MaxID returns the highest record id.
func (s *Store) MaxID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, maxIDSQL)
}

// MinDetailID returns the lowest id with a detail payload.
func (s *Store) MinDetailID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, minDetailIDSQL)
}

// MaxDetailID returns the highest id with a detail payload.
func (s *Store) MaxDetailID(ctx context.Context) (int64, bool, error) {
	return s.queryBound(ctx, maxDetailIDSQL)
}

// LoadCheckpoint reads the singleton checkpoint row.
func (s *Store) LoadCheckpoint(ctx context.Context) (store.Checkpoint, error) {
	var cp store.Checkpoint
	err := s.pool.QueryRow(ctx, loadCheckpointSQL, checkpointRowID).Scan(&cp.NextPage, &cp.PageSize, &cp.Watermark, &cp.SweepTop)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Checkpoint{}, store.ErrNotFound
		}
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint overwrites the singleton checkpoint row.
func (s *Store) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error {
	if _, err := s.pool.Exec(ctx, saveCheckpointSQL, checkpointRowID, cp.NextPage, cp.PageSize, cp.Watermark, cp.SweepTop); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string) ([]store.Record, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

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
	var id int64
	if err := s.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("query bound: %w", err)
	}
	if id < 0 {
		return 0, false, nil
	}
	return id, true, nil
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
