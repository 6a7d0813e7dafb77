package kafka

import (
	"context"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/flywind2/t-cell-data/internal/config"
	"github.com/flywind2/t-cell-data/internal/domain"
)

// Writer produces population summaries to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple analysis results to the sink
// Kafka topic in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, results []domain.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an analysis result into a Kafka message keyed
// by sample ID so all runs of one sample land on the same partition.
func serializeToMessage(result domain.AnalysisResult) (kafkago.Message, error) {
	data, err := domain.SerializeResult(result)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(result.SampleID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "sample_id", Value: []byte(result.SampleID)},
			{Key: "processed_at", Value: []byte(result.ProcessedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
