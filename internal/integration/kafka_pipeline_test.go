//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/flywind2/t-cell-data/internal/adapter/kafka"
	"github.com/flywind2/t-cell-data/internal/config"
	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
	"github.com/flywind2/t-cell-data/internal/gating"
	"github.com/flywind2/t-cell-data/internal/observability"
	"github.com/flywind2/t-cell-data/internal/pipeline"
)

const (
	testSourceTopic = "test-sample-requests"
	testSinkTopic   = "test-population-summaries"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka broker in a container and returns its
// bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err, "resolve brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "find controller")

	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeSample writes a two-channel FCS file: 200 CD4-low events and 300
// CD4-high events, so a boundary gate at 2 keeps exactly 300.
func writeSample(t *testing.T) string {
	t.Helper()

	channels := []domain.Channel{
		{Name: "FSC-A", Range: 262144},
		{Name: "FL1-A", Stain: "CD4", Range: 262144},
	}
	data := make([]float64, 0, 500*2)
	for i := 0; i < 200; i++ {
		data = append(data, 50000, 1.0)
	}
	for i := 0; i < 300; i++ {
		data = append(data, 50000, 3.0)
	}
	frame, err := domain.NewFrame(channels, data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sample.fcs")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fcs.Write(f, frame, nil))
	require.NoError(t, f.Close())
	return path
}

func testTemplate(t *testing.T) *gating.Template {
	t.Helper()
	tpl, err := gating.ParseTemplate(
		strings.NewReader("alias,pop,parent,dims,method,args\nCD4+,+,root,CD4,boundary,min=2\n"),
	)
	require.NoError(t, err)
	return tpl
}

func sampleRequestPayload(t *testing.T, sampleID, path string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.SampleRequest{
		SampleID:  sampleID,
		Source:    domain.Source{Kind: domain.SourceFile, Ref: path},
		Transform: "linear",
	})
	require.NoError(t, err)
	return payload
}

// summaryMessage holds a deserialized message read from the sink topic.
type summaryMessage struct {
	Output  domain.OutputMessage
	Key     string
	Headers map[string]string
}

// readSummary reads a single message from the sink consumer and deserializes it.
func readSummary(ctx context.Context, t *testing.T, consumer *kafkago.Reader) summaryMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var out domain.OutputMessage
	require.NoError(t, json.Unmarshal(msg.Value, &out), "unmarshal sink message")

	return summaryMessage{
		Output:  out,
		Key:     string(msg.Key),
		Headers: headers,
	}
}

func population(t *testing.T, out domain.OutputMessage, path string) domain.PopulationStat {
	t.Helper()
	for _, p := range out.Populations {
		if p.Path == path {
			return p
		}
	}
	t.Fatalf("population %s not in output", path)
	return domain.PopulationStat{}
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader (Extractor)
// and kafka.Writer (Loader) correctly round-trip a sample through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("test-reader-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	fcsPath := writeSample(t)
	payload := sampleRequestPayload(t, "smp-roundtrip", fcsPath)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("test-key"),
		Value: payload,
	}))

	// Extract via kafka.Reader.
	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawMessage
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("test-key"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	require.NotNil(t, raw.Commit, "commit callback should be set")

	// Commit the offset.
	require.NoError(t, raw.Commit(ctx))

	// Analyze the raw request.
	analyzer := pipeline.NewAnalyzer(nil, nil, pipeline.AnalyzerConfig{
		Template:  testTemplate(t),
		Transform: "linear",
	}, discardLogger(), observability.NewMetricsForTesting())
	result, err := analyzer.Analyze(ctx, raw)
	require.NoError(t, err)

	// Load via kafka.Writer.
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.LoadBatch(ctx, []domain.AnalysisResult{result}))

	// Read from the sink topic and verify headers + value.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readSummary(ctx, t, consumer)
	assert.Equal(t, "smp-roundtrip", sm.Key)
	assert.Equal(t, "smp-roundtrip", sm.Headers["sample_id"])
	require.Contains(t, sm.Headers, "processed_at")
	_, err = time.Parse(time.RFC3339, sm.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	assert.Equal(t, "smp-roundtrip", sm.Output.SampleID)
	assert.Equal(t, 500, sm.Output.Events)
	cd4 := population(t, sm.Output, "/CD4+")
	assert.Equal(t, 300, cd4.Count)
	assert.InDelta(t, 0.6, cd4.Frequency, 1e-9)
}

// TestPipelineEndToEnd wires the full pipeline (Reader, Analyzer, Writer)
// against real Kafka and verifies every request comes out gated.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	fcsPath := writeSample(t)

	const samples = 5
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := make([]kafkago.Message, 0, samples)
	for i := 0; i < samples; i++ {
		id := fmt.Sprintf("smp-%03d", i)
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(id),
			Value: sampleRequestPayload(t, id, fcsPath),
		})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	// Wire up the pipeline.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	analyzer := pipeline.NewAnalyzer(nil, nil, pipeline.AnalyzerConfig{
		Template:  testTemplate(t),
		Transform: "linear",
	}, discardLogger(), observability.NewMetricsForTesting())

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, analyzer, writer, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Read all summaries from the sink topic.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	received := make([]summaryMessage, 0, samples)
	for len(received) < samples {
		received = append(received, readSummary(ctx, t, consumer))
	}

	pipelineCancel()
	require.NoError(t, <-errCh)

	require.Len(t, received, samples)
	seen := map[string]bool{}
	for _, sm := range received {
		seen[sm.Output.SampleID] = true

		assert.Equal(t, 500, sm.Output.Events)
		assert.False(t, sm.Output.ProcessedAt.IsZero(), "missing processed_at")
		assert.NotEmpty(t, sm.Headers["sample_id"], "missing sample_id header")

		cd4 := population(t, sm.Output, "/CD4+")
		assert.Equal(t, 300, cd4.Count)
		assert.InDelta(t, 0.6, cd4.Frequency, 1e-9)
		assert.InDelta(t, 3.0, cd4.Medians["FL1-A"], 1e-6)
	}
	assert.Len(t, seen, samples, "every sample ID should appear exactly once")

	require.NoError(t, p.CheckReadiness(ctx), "pipeline should be ready after a batch")
}

// TestPipelineAnalysisError verifies that an invalid request (poison pill) is
// skipped and the pipeline continues processing valid requests.
func TestPipelineAnalysisError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("test-poison-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	fcsPath := writeSample(t)

	// Publish: invalid JSON, then a valid request.
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("good"), Value: sampleRequestPayload(t, "smp-good", fcsPath)},
	))

	// Wire up the pipeline.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	analyzer := pipeline.NewAnalyzer(nil, nil, pipeline.AnalyzerConfig{
		Template:  testTemplate(t),
		Transform: "linear",
	}, discardLogger(), observability.NewMetricsForTesting())

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, analyzer, writer, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Only the valid request should appear on the sink topic.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readSummary(ctx, t, consumer)
	assert.Equal(t, "smp-good", sm.Output.SampleID)
	assert.Equal(t, 500, sm.Output.Events)

	// Verify no second message arrives (the poison pill was skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
