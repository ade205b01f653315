package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/location-ingest/internal/domain"
)

// Read-side queries run outside batch transactions. The ingestion pipeline
// never reads back what it wrote; these serve map rendering and tests.

// TileCount returns the count for one bucket of a grid, with ok false when
// no tile exists yet.
func (s *Store) TileCount(ctx context.Context, grid domain.GridKey, b domain.TileBucket) (int64, bool, error) {
	query := s.rebind(`SELECT count FROM mapstats WHERE lat_bucket = ? AND lon_bucket = ? AND grid_key = ?`)
	var count int64
	err := s.db.QueryRowContext(ctx, query, b.Lat, b.Lon, int(grid)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("tile count: %w", err)
	}
	return count, true, nil
}

// CountTiles returns the number of tile rows in a grid.
func (s *Store) CountTiles(ctx context.Context, grid domain.GridKey) (int64, error) {
	query := s.rebind(`SELECT COUNT(*) FROM mapstats WHERE grid_key = ?`)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, int(grid)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tiles: %w", err)
	}
	return n, nil
}

// CountMeasures returns the total number of persisted measures.
func (s *Store) CountMeasures(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count measures: %w", err)
	}
	return n, nil
}

// MeasureByID loads one measure.
func (s *Store) MeasureByID(ctx context.Context, id int64) (*domain.Measure, error) {
	query := s.rebind(`SELECT id, created, time, lat, lon, accuracy, altitude, altitude_accuracy, radio, cell, wifi
		FROM measures WHERE id = ?`)

	var m domain.Measure
	var created, observed string
	var cell, wifi sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &created, &observed, &m.Lat, &m.Lon,
		&m.Accuracy, &m.Altitude, &m.AltitudeAccuracy, &m.Radio,
		&cell, &wifi,
	)
	if err != nil {
		return nil, fmt.Errorf("load measure %d: %w", id, err)
	}

	if m.Created, err = time.Parse(timeFormat, created); err != nil {
		return nil, fmt.Errorf("parse measure created: %w", err)
	}
	if m.Time, err = time.Parse(timeFormat, observed); err != nil {
		return nil, fmt.Errorf("parse measure time: %w", err)
	}
	if cell.Valid {
		m.Cell = []byte(cell.String)
	}
	if wifi.Valid {
		m.Wifi = []byte(wifi.String)
	}
	return &m, nil
}

// UsersByNickname returns every user row carrying the nickname. More than
// one row is possible under the tolerated concurrent-creation race.
func (s *Store) UsersByNickname(ctx context.Context, nickname string) ([]domain.User, error) {
	query := s.rebind(`SELECT id, nickname FROM users WHERE nickname = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, nickname)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Nickname); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Score returns the accumulated score value for a user and key, with ok
// false when no score row exists.
func (s *Store) Score(ctx context.Context, userID int64, key string) (int64, bool, error) {
	query := s.rebind(`SELECT value FROM scores WHERE user_id = ? AND key = ?`)
	var value int64
	err := s.db.QueryRowContext(ctx, query, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load score: %w", err)
	}
	return value, true, nil
}
