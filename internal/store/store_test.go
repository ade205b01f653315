package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ingest.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Open(context.Background(), "oracle", "dsn", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database driver")
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: dialectPostgres}
	assert.Equal(t,
		`SELECT id FROM users WHERE nickname = $1 LIMIT 1`,
		s.rebind(`SELECT id FROM users WHERE nickname = ? LIMIT 1`))
	assert.Equal(t,
		`INSERT INTO scores (user_id, key, value) VALUES ($1, $2, $3)`,
		s.rebind(`INSERT INTO scores (user_id, key, value) VALUES (?, ?, ?)`))

	sq := &Store{dialect: dialectSQLite}
	assert.Equal(t, `VALUES (?, ?)`, sq.rebind(`VALUES (?, ?)`))
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("lookup before create", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			_, ok, err := tx.UserIDByNickname(ctx, "alice_phone")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})

	t.Run("create then lookup", func(t *testing.T) {
		var created int64
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			id, err := tx.CreateUser(ctx, "alice_phone")
			require.NoError(t, err)
			require.Positive(t, id)
			created = id
			return nil
		}))

		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			id, ok, err := tx.UserIDByNickname(ctx, "alice_phone")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, created, id)
			return nil
		}))

		users, err := s.UsersByNickname(ctx, "alice_phone")
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "alice_phone", users[0].Nickname)
	})
}

func TestMeasures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)

	m := &domain.Measure{
		Created:          now,
		Time:             now.Add(-time.Hour),
		Lat:              515001000,
		Lon:              -1257000,
		Accuracy:         20,
		Altitude:         35,
		AltitudeAccuracy: 5,
		Radio:            3,
	}

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertMeasure(ctx, m))
		require.Positive(t, m.ID)
		return tx.SetMeasureBlobs(ctx, m.ID, []byte(`[{"key":"aabbccddeeff"}]`), nil)
	}))

	loaded, err := s.MeasureByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Lat, loaded.Lat)
	assert.Equal(t, m.Lon, loaded.Lon)
	assert.True(t, loaded.Created.Equal(now))
	assert.True(t, loaded.Time.Equal(now.Add(-time.Hour)))
	assert.Equal(t, 3, loaded.Radio)
	assert.JSONEq(t, `[{"key":"aabbccddeeff"}]`, string(loaded.Cell))
	assert.Nil(t, loaded.Wifi)

	count, err := s.CountMeasures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b1 := domain.TileBucket{Lat: 515001, Lon: -1257}
	b2 := domain.TileBucket{Lat: 515002, Lon: -1258}

	t.Run("probe finds nothing on empty grid", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			existing, err := tx.ExistingTiles(ctx, domain.GridFine, []domain.TileBucket{b1, b2})
			require.NoError(t, err)
			assert.Empty(t, existing)
			return nil
		}))
	})

	t.Run("upsert creates, probe finds, increment adds", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertTile(ctx, domain.GridFine, b1, 3)
		}))

		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			existing, err := tx.ExistingTiles(ctx, domain.GridFine, []domain.TileBucket{b1, b2})
			require.NoError(t, err)
			assert.True(t, existing[b1])
			assert.False(t, existing[b2])
			return tx.IncrementTile(ctx, domain.GridFine, b1, 2)
		}))

		count, ok, err := s.TileCount(ctx, domain.GridFine, b1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(5), count)
	})

	t.Run("upsert merges on conflict", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertTile(ctx, domain.GridFine, b1, 4)
		}))

		count, ok, err := s.TileCount(ctx, domain.GridFine, b1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(9), count)
	})

	t.Run("grids are independent", func(t *testing.T) {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertTile(ctx, domain.GridCoarse, b1, 1)
		}))

		fine, ok, err := s.TileCount(ctx, domain.GridFine, b1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(9), fine)

		coarse, ok, err := s.TileCount(ctx, domain.GridCoarse, b1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), coarse)
	})
}

// TestTiles_ConcurrentDeltas checks the merge contract under concurrent
// writers: the final count must be the sum of all deltas no matter how the
// probe and write steps interleave.
func TestTiles_ConcurrentDeltas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bucket := domain.TileBucket{Lat: 100, Lon: 200}

	const (
		writers          = 8
		batchesPerWriter = 5
		deltaPerBatch    = 3
	)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < batchesPerWriter; i++ {
				err := s.WithTx(ctx, func(tx *Tx) error {
					existing, err := tx.ExistingTiles(ctx, domain.GridFine, []domain.TileBucket{bucket})
					if err != nil {
						return err
					}
					if existing[bucket] {
						return tx.IncrementTile(ctx, domain.GridFine, bucket, deltaPerBatch)
					}
					return tx.UpsertTile(ctx, domain.GridFine, bucket, deltaPerBatch)
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, ok, err := s.TileCount(ctx, domain.GridFine, bucket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(writers*batchesPerWriter*deltaPerBatch), count)

	tiles, err := s.CountTiles(ctx, domain.GridFine)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tiles)
}

func TestScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Score(ctx, 1, domain.ScoreKeyLocation)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.AddScore(ctx, 1, domain.ScoreKeyLocation, 3); err != nil {
			return err
		}
		return tx.AddScore(ctx, 1, domain.ScoreKeyNewLocation, 1)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.AddScore(ctx, 1, domain.ScoreKeyLocation, 2)
	}))

	value, ok, err := s.Score(ctx, 1, domain.ScoreKeyLocation)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), value)

	value, ok, err = s.Score(ctx, 1, domain.ScoreKeyNewLocation)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), value)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertTile(ctx, domain.GridFine, domain.TileBucket{Lat: 1, Lon: 2}, 7); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, ok, err := s.TileCount(ctx, domain.GridFine, domain.TileBucket{Lat: 1, Lon: 2})
	require.NoError(t, err)
	assert.False(t, ok, "rolled-back tile must not be visible")
}
