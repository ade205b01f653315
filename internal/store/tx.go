package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/location-ingest/internal/domain"
)

// Tx exposes the domain operations available inside one batch transaction.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// timeFormat is the stored timestamp encoding for both dialects.
const timeFormat = time.RFC3339Nano

// UserIDByNickname looks up a user by exact nickname match.
func (t *Tx) UserIDByNickname(ctx context.Context, nickname string) (int64, bool, error) {
	query := t.store.rebind(`SELECT id FROM users WHERE nickname = ? LIMIT 1`)
	var id int64
	err := t.tx.QueryRowContext(ctx, query, nickname).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup user: %w", err)
	}
	return id, true, nil
}

// CreateUser inserts a new user and returns its id.
func (t *Tx) CreateUser(ctx context.Context, nickname string) (int64, error) {
	if t.store.dialect == dialectPostgres {
		query := t.store.rebind(`INSERT INTO users (nickname) VALUES (?) RETURNING id`)
		var id int64
		if err := t.tx.QueryRowContext(ctx, query, nickname).Scan(&id); err != nil {
			return 0, fmt.Errorf("create user: %w", err)
		}
		return id, nil
	}

	res, err := t.tx.ExecContext(ctx, `INSERT INTO users (nickname) VALUES (?)`, nickname)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user id: %w", err)
	}
	return id, nil
}

// InsertMeasure persists a measure and assigns its surrogate id, which must
// exist before enrichment dispatch because it is embedded in the payload.
func (t *Tx) InsertMeasure(ctx context.Context, m *domain.Measure) error {
	const columns = `created, time, lat, lon, accuracy, altitude, altitude_accuracy, radio`
	args := []any{
		m.Created.UTC().Format(timeFormat),
		m.Time.UTC().Format(timeFormat),
		m.Lat, m.Lon,
		m.Accuracy, m.Altitude, m.AltitudeAccuracy, m.Radio,
	}

	if t.store.dialect == dialectPostgres {
		query := t.store.rebind(`INSERT INTO measures (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&m.ID); err != nil {
			return fmt.Errorf("insert measure: %w", err)
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `INSERT INTO measures (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert measure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert measure id: %w", err)
	}
	m.ID = id
	return nil
}

// SetMeasureBlobs attaches serialized signal lists to a measure. This is the
// single post-creation mutation a measure ever receives.
func (t *Tx) SetMeasureBlobs(ctx context.Context, id int64, cell, wifi []byte) error {
	query := t.store.rebind(`UPDATE measures SET cell = ?, wifi = ? WHERE id = ?`)
	if _, err := t.tx.ExecContext(ctx, query, nullableText(cell), nullableText(wifi), id); err != nil {
		return fmt.Errorf("set measure blobs: %w", err)
	}
	return nil
}

// ExistingTiles reports which of the given buckets already have a tile row
// for the grid. The predicate is a disjunction of per-bucket conjunctions,
// (lat = ? AND lon = ?) OR ..., because the database cannot use an index on
// a multi-column tuple IN list.
func (t *Tx) ExistingTiles(ctx context.Context, grid domain.GridKey, buckets []domain.TileBucket) (map[domain.TileBucket]bool, error) {
	existing := make(map[domain.TileBucket]bool, len(buckets))
	if len(buckets) == 0 {
		return existing, nil
	}

	conds := make([]string, 0, len(buckets))
	args := make([]any, 0, 1+2*len(buckets))
	args = append(args, int(grid))
	for _, b := range buckets {
		conds = append(conds, `(lat_bucket = ? AND lon_bucket = ?)`)
		args = append(args, b.Lat, b.Lon)
	}

	query := t.store.rebind(
		`SELECT lat_bucket, lon_bucket FROM mapstats WHERE grid_key = ? AND (` +
			strings.Join(conds, " OR ") + `)`)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("probe tiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.TileBucket
		if err := rows.Scan(&b.Lat, &b.Lon); err != nil {
			return nil, fmt.Errorf("scan tile bucket: %w", err)
		}
		existing[b] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("probe tiles: %w", err)
	}
	return existing, nil
}

// IncrementTile adds delta to an existing tile's count. The arithmetic runs
// server-side so concurrent batches never lose updates to a stale probe.
func (t *Tx) IncrementTile(ctx context.Context, grid domain.GridKey, b domain.TileBucket, delta int64) error {
	query := t.store.rebind(
		`UPDATE mapstats SET count = count + ? WHERE lat_bucket = ? AND lon_bucket = ? AND grid_key = ?`)
	if _, err := t.tx.ExecContext(ctx, query, delta, b.Lat, b.Lon, int(grid)); err != nil {
		return fmt.Errorf("increment tile: %w", err)
	}
	return nil
}

// UpsertTile inserts a fresh tile with delta as its initial count. If a
// concurrent batch created the same bucket first, the conflict clause merges
// the delta onto the existing count instead of failing.
func (t *Tx) UpsertTile(ctx context.Context, grid domain.GridKey, b domain.TileBucket, delta int64) error {
	query := t.store.rebind(
		`INSERT INTO mapstats (lat_bucket, lon_bucket, grid_key, count) VALUES (?, ?, ?, ?)
		ON CONFLICT (lat_bucket, lon_bucket, grid_key) DO UPDATE SET count = mapstats.count + excluded.count`)
	if _, err := t.tx.ExecContext(ctx, query, b.Lat, b.Lon, int(grid), delta); err != nil {
		return fmt.Errorf("upsert tile: %w", err)
	}
	return nil
}

// AddScore accumulates value onto the user's score row for the given key,
// creating the row on first use.
func (t *Tx) AddScore(ctx context.Context, userID int64, key string, value int64) error {
	query := t.store.rebind(
		`INSERT INTO scores (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = scores.value + excluded.value`)
	if _, err := t.tx.ExecContext(ctx, query, userID, key, value); err != nil {
		return fmt.Errorf("add score: %w", err)
	}
	return nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
