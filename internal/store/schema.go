package store

import (
	"context"
	"fmt"
)

// Schema notes:
//
//   - users.nickname deliberately has no unique constraint. Resolution is
//     check-then-create inside the batch transaction; concurrent first
//     submissions of the same nickname may each create a row, which the
//     consistency model tolerates in exchange for lock-free ingestion.
//   - mapstats holds both grids, distinguished by grid_key, with at most one
//     row per (lat_bucket, lon_bucket, grid_key). Counts only grow, and only
//     through server-side arithmetic.
//   - Timestamps are RFC3339 text in both dialects so one scan path serves
//     sqlite and postgres.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nickname TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS users_nickname_idx ON users (nickname)`,
	`CREATE TABLE IF NOT EXISTS measures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created TEXT NOT NULL,
		time TEXT NOT NULL,
		lat INTEGER NOT NULL,
		lon INTEGER NOT NULL,
		accuracy INTEGER NOT NULL DEFAULT 0,
		altitude INTEGER NOT NULL DEFAULT 0,
		altitude_accuracy INTEGER NOT NULL DEFAULT 0,
		radio INTEGER NOT NULL DEFAULT -1,
		cell TEXT,
		wifi TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS mapstats (
		lat_bucket INTEGER NOT NULL,
		lon_bucket INTEGER NOT NULL,
		grid_key INTEGER NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (lat_bucket, lon_bucket, grid_key)
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		user_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, key)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		nickname TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS users_nickname_idx ON users (nickname)`,
	`CREATE TABLE IF NOT EXISTS measures (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		created TEXT NOT NULL,
		time TEXT NOT NULL,
		lat BIGINT NOT NULL,
		lon BIGINT NOT NULL,
		accuracy INTEGER NOT NULL DEFAULT 0,
		altitude INTEGER NOT NULL DEFAULT 0,
		altitude_accuracy INTEGER NOT NULL DEFAULT 0,
		radio INTEGER NOT NULL DEFAULT -1,
		cell TEXT,
		wifi TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS mapstats (
		lat_bucket BIGINT NOT NULL,
		lon_bucket BIGINT NOT NULL,
		grid_key INTEGER NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (lat_bucket, lon_bucket, grid_key)
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		user_id BIGINT NOT NULL,
		key TEXT NOT NULL,
		value BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, key)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
