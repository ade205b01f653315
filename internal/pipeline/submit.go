// Package pipeline implements the submission pipeline: user resolution,
// measurement ingestion with enrichment dispatch, tile aggregation, and
// scoring, committed as one transaction per batch.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/couchcryptid/location-ingest/internal/observability"
	"github.com/couchcryptid/location-ingest/internal/store"
)

// EnrichmentPublisher hands derived-signal payloads to the asynchronous
// enrichment workers. Implementations must not couple delivery to the
// caller's transaction.
type EnrichmentPublisher interface {
	PublishCellMeasure(ctx context.Context, measure domain.MeasureData, cells []domain.CellTower, userID *int64) error
	PublishWifiMeasure(ctx context.Context, measure domain.MeasureData, wifis []domain.WifiSignal, userID *int64) error
}

// Processor orchestrates one submit batch end to end.
type Processor struct {
	store     *store.Store
	publisher EnrichmentPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Processor with the given collaborators.
func New(s *store.Store, publisher EnrichmentPublisher, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:     s,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil when the backing store is reachable.
func (p *Processor) CheckReadiness(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// Submit ingests one validated batch: resolve the nickname once, normalize
// and persist every observation, aggregate the whole batch into both tile
// grids, apply scoring, and commit everything as a single transaction. An
// empty batch commits as a no-op.
func (p *Processor) Submit(ctx context.Context, items []domain.SubmitItem, nickname string) error {
	now := clock.Now().UTC()
	start := time.Now()

	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		userID, err := p.resolveUser(ctx, tx, nickname)
		if err != nil {
			return err
		}

		measures := make([]*domain.Measure, 0, len(items))
		for _, item := range items {
			m, err := p.ingestMeasure(ctx, tx, item, now, userID)
			if err != nil {
				return err
			}
			measures = append(measures, m)
		}

		if userID != nil && len(measures) > 0 {
			if err := tx.AddScore(ctx, *userID, domain.ScoreKeyLocation, int64(len(measures))); err != nil {
				return err
			}
		}
		if len(measures) > 0 {
			if err := p.aggregateTiles(ctx, tx, measures, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.metrics.ItemsUploaded.Add(float64(len(items)))
	p.metrics.BatchSize.Observe(float64(len(items)))
	p.metrics.BatchesSubmitted.Inc()
	p.metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	return nil
}

// resolveUser maps a nickname to a stable user id, creating the user on
// first sight. Nicknames outside the length bounds resolve to nil and the
// batch proceeds anonymously. The check-then-create is not atomic across
// concurrent batches; a duplicate row under that race is tolerated.
func (p *Processor) resolveUser(ctx context.Context, tx *store.Tx, nickname string) (*int64, error) {
	if n := utf8.RuneCountInString(nickname); n < domain.NicknameMinLen || n > domain.NicknameMaxLen {
		return nil, nil
	}

	id, ok, err := tx.UserIDByNickname(ctx, nickname)
	if err != nil {
		return nil, err
	}
	if ok {
		return &id, nil
	}

	id, err = tx.CreateUser(ctx, nickname)
	if err != nil {
		return nil, err
	}
	p.metrics.UsersCreated.Inc()
	p.logger.Debug("created user", "user_id", id)
	return &id, nil
}

// ingestMeasure normalizes, persists, and dispatches one observation. The
// measure row is written first so its id exists for the dispatch payloads;
// the serialized signal blobs are attached in a single follow-up update.
func (p *Processor) ingestMeasure(ctx context.Context, tx *store.Tx, item domain.SubmitItem, now time.Time, userID *int64) (*domain.Measure, error) {
	observed, malformed := domain.NormalizeTime(item.Time, now)
	if malformed {
		p.logger.Debug("discarding malformed observation time", "value", item.Time)
		p.metrics.MalformedTime.Inc()
	}

	lat, err := domain.ToPreciseInt(item.Lat)
	if err != nil {
		return nil, fmt.Errorf("parse lat: %w", err)
	}
	lon, err := domain.ToPreciseInt(item.Lon)
	if err != nil {
		return nil, fmt.Errorf("parse lon: %w", err)
	}

	m := &domain.Measure{
		Created:          now,
		Time:             observed,
		Lat:              lat,
		Lon:              lon,
		Accuracy:         item.Accuracy,
		Altitude:         item.Altitude,
		AltitudeAccuracy: item.AltitudeAccuracy,
		Radio:            domain.RadioCode(item.Radio),
	}
	if err := tx.InsertMeasure(ctx, m); err != nil {
		return nil, err
	}

	if len(item.Cell) > 0 {
		blob, err := json.Marshal(item.Cell)
		if err != nil {
			return nil, fmt.Errorf("serialize cell list: %w", err)
		}
		p.dispatch("cell", m.ID, func() error {
			return p.publisher.PublishCellMeasure(ctx, m.Data(), item.Cell, userID)
		})
		m.Cell = blob
	}

	if len(item.Wifi) > 0 {
		// A single legacy key drops the observation's whole wifi list.
		if wifis, ok := domain.NormalizeWifiSignals(item.Wifi); ok {
			blob, err := json.Marshal(wifis)
			if err != nil {
				return nil, fmt.Errorf("serialize wifi list: %w", err)
			}
			p.dispatch("wifi", m.ID, func() error {
				return p.publisher.PublishWifiMeasure(ctx, m.Data(), wifis, userID)
			})
			m.Wifi = blob
		} else {
			p.logger.Debug("dropped wifi list with legacy key", "measure_id", m.ID)
		}
	}

	if m.Cell != nil || m.Wifi != nil {
		if err := tx.SetMeasureBlobs(ctx, m.ID, m.Cell, m.Wifi); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// dispatch runs one enrichment publish. Failures are logged and counted but
// never surfaced: base observation durability is not coupled to enrichment.
func (p *Processor) dispatch(kind string, measureID int64, publish func() error) {
	if err := publish(); err != nil {
		p.logger.Warn("enrichment dispatch failed", "kind", kind, "measure_id", measureID, "error", err)
		p.metrics.EnrichmentErrors.WithLabelValues(kind).Inc()
		return
	}
	p.metrics.EnrichmentPublished.WithLabelValues(kind).Inc()
}
