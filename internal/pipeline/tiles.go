package pipeline

import (
	"context"

	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/couchcryptid/location-ingest/internal/store"
)

// aggregateTiles folds one batch into both grids. Only the fine grid's
// new-tile count drives scoring; the coarse grid is aggregation-only.
func (p *Processor) aggregateTiles(ctx context.Context, tx *store.Tx, measures []*domain.Measure, userID *int64) error {
	newFine, err := p.aggregateGrid(ctx, tx, domain.GridFine, measures)
	if err != nil {
		return err
	}
	if userID != nil && newFine > 0 {
		if err := tx.AddScore(ctx, *userID, domain.ScoreKeyNewLocation, int64(newFine)); err != nil {
			return err
		}
	}

	_, err = p.aggregateGrid(ctx, tx, domain.GridCoarse, measures)
	return err
}

// aggregateGrid merges one batch into a single grid:
//
//  1. bin every measure locally, accumulating a per-bucket delta so multiple
//     observations in one bucket touch storage once;
//  2. probe which touched buckets already have a tile row;
//  3. for known buckets issue a server-side count increment, for fresh ones
//     an insert that merges the delta if a concurrent batch won the insert.
//
// The returned new-tile number is this batch's local estimate: a concurrent
// batch may classify the same bucket as new, and that duplicate credit is an
// accepted trade-off for lock-free tiles.
func (p *Processor) aggregateGrid(ctx context.Context, tx *store.Tx, grid domain.GridKey, measures []*domain.Measure) (int, error) {
	deltas := make(map[domain.TileBucket]int64, len(measures))
	for _, m := range measures {
		deltas[domain.Bucket(m.Lat, m.Lon, grid)]++
	}

	buckets := make([]domain.TileBucket, 0, len(deltas))
	for b := range deltas {
		buckets = append(buckets, b)
	}

	existing, err := tx.ExistingTiles(ctx, grid, buckets)
	if err != nil {
		return 0, err
	}

	newTiles := 0
	for b, delta := range deltas {
		if existing[b] {
			if err := tx.IncrementTile(ctx, grid, b, delta); err != nil {
				return 0, err
			}
			continue
		}
		newTiles++
		if err := tx.UpsertTile(ctx, grid, b, delta); err != nil {
			return 0, err
		}
	}

	if newTiles > 0 {
		p.metrics.TilesCreated.WithLabelValues(grid.String()).Add(float64(newTiles))
	}
	return newTiles, nil
}
