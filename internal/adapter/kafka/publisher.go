// Package kafka dispatches enrichment tasks to the asynchronous worker
// topics. Dispatch is fire-and-forget: the ingesting transaction never waits
// for broker acknowledgment and never fails because dispatch did.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/location-ingest/internal/config"
	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/couchcryptid/location-ingest/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Task kinds, which double as topic defaults.
const (
	TaskCellMeasure = "insert_cell_measure"
	TaskWifiMeasure = "insert_wifi_measure"
)

// task is the JSON payload consumed by enrichment workers.
type task struct {
	Measure domain.MeasureData  `json:"measure"`
	Cell    []domain.CellTower  `json:"cell,omitempty"`
	Wifi    []domain.WifiSignal `json:"wifi,omitempty"`
	UserID  *int64              `json:"user_id"`
}

// Publisher produces enrichment task messages, one topic per task kind.
type Publisher struct {
	writer    *kafkago.Writer
	cellTopic string
	wifiTopic string
	logger    *slog.Logger
}

// NewPublisher creates a Kafka producer for the enrichment topics. The
// writer runs in async mode so publishing never blocks the batch
// transaction; delivery failures are logged and counted via the completion
// callback.
func NewPublisher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
	}
	w.Completion = func(messages []kafkago.Message, err error) {
		if err == nil {
			return
		}
		for _, msg := range messages {
			logger.Warn("enrichment delivery failed", "topic", msg.Topic, "error", err)
			metrics.EnrichmentErrors.WithLabelValues(kindForTopic(msg.Topic, cfg)).Inc()
		}
	}
	return &Publisher{
		writer:    w,
		cellTopic: cfg.KafkaCellTopic,
		wifiTopic: cfg.KafkaWifiTopic,
		logger:    logger,
	}
}

// PublishCellMeasure dispatches a cell-tower enrichment task.
func (p *Publisher) PublishCellMeasure(ctx context.Context, measure domain.MeasureData, cells []domain.CellTower, userID *int64) error {
	msg, err := serializeTask(p.cellTopic, task{Measure: measure, Cell: cells, UserID: userID})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// PublishWifiMeasure dispatches a Wi-Fi enrichment task. Keys are expected
// to be normalized already.
func (p *Publisher) PublishWifiMeasure(ctx context.Context, measure domain.MeasureData, wifis []domain.WifiSignal, userID *int64) error {
	msg, err := serializeTask(p.wifiTopic, task{Measure: measure, Wifi: wifis, UserID: userID})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeTask marshals a task into a Kafka message keyed by measure id.
func serializeTask(topic string, t task) (kafkago.Message, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize enrichment task: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(t.Measure.ID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "measure_id", Value: []byte(strconv.FormatInt(t.Measure.ID, 10))},
			{Key: "created", Value: []byte(t.Measure.Created)},
		},
	}, nil
}

func kindForTopic(topic string, cfg *config.Config) string {
	if topic == cfg.KafkaWifiTopic {
		return "wifi"
	}
	return "cell"
}
