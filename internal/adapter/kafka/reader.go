// Package kafka adapts the analysis pipeline to Kafka: the Reader extracts
// sample requests from the source topic, the Writer loads population
// summaries into the sink topic.
package kafka

import (
	"context"
	"errors"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/flywind2/t-cell-data/internal/config"
	"github.com/flywind2/t-cell-data/internal/domain"
)

// Reader consumes sample requests from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaSourceTopic,
		GroupID: cfg.KafkaGroupID,
		// FCS analyses run seconds per sample; small fetches keep rebalance
		// lag bounded.
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  cfg.BatchFlushInterval,
	})
	return &Reader{reader: r, logger: logger}
}

// ExtractBatch fetches up to batchSize messages, returning early once the
// first fetch would block. Offsets are committed by the pipeline through
// each message's Commit hook, only after its result is loaded.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error) {
	batch := make([]domain.RawMessage, 0, batchSize)
	for len(batch) < batchSize {
		fetchCtx := ctx
		var cancel context.CancelFunc
		if len(batch) > 0 {
			// A partial batch should ship rather than wait for more traffic.
			fetchCtx, cancel = context.WithTimeout(ctx, r.reader.Config().MaxWait)
		}
		msg, err := r.reader.FetchMessage(fetchCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if len(batch) > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				// Flush interval elapsed; ship the partial batch.
				return batch, nil
			}
			return nil, err
		}
		batch = append(batch, mapMessageToRaw(r.reader, msg))
	}
	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRaw converts a fetched Kafka message into the domain shape,
// binding the commit callback to this reader's consumer group.
func mapMessageToRaw(reader *kafkago.Reader, msg kafkago.Message) domain.RawMessage {
	return domain.RawMessage{
		Key:   msg.Key,
		Value: msg.Value,
		Commit: func(ctx context.Context) error {
			return reader.CommitMessages(ctx, msg)
		},
	}
}
