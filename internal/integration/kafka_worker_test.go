//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/kafka"
	"github.com/couchcryptid/lake-forcing-etl/internal/config"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRequestTopic    = "test-requests"
	testCompletionTopic = "test-completions"
)

// stubProcessor records requests and reports a conflict for keys it has
// already seen, the way the real processor treats existing output.
type stubProcessor struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *stubProcessor) Process(_ context.Context, t time.Time, lake string, _ int) (domain.Result, error) {
	req, err := domain.NewRequest(t, lake)
	if err != nil {
		return domain.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[req.Key()] {
		return domain.Result{Key: req.Key()}, domain.ConflictError(req.Key())
	}
	s.seen[req.Key()] = true
	return domain.Result{Key: req.Key(), Path: "data/" + req.Key() + "/" + req.Key() + "_in.nc", Attempts: 1}, nil
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:         []string{broker},
		KafkaRequestTopic:    testRequestTopic,
		KafkaCompletionTopic: testCompletionTopic,
		KafkaGroupID:         fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval:   time.Second,
	}
}

func readCompletion(ctx context.Context, t *testing.T, consumer *kafkago.Reader) (domain.CompletionEvent, map[string]string) {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from completion topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var ev domain.CompletionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	return ev, headers
}

// TestKafkaReaderWriter verifies that kafka.Reader and kafka.Writer round-trip
// a message through a real broker.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testCompletionTopic)
	cfg := testConfig(broker, "test-reader")

	payload, err := json.Marshal(domain.ProcessRequest{Date: "2024-01-10T12:00:00Z", Lake: "m"})
	require.NoError(t, err)
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testRequestTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("m"), Value: payload}))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	batch, err := reader.ExtractBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testRequestTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	req, err := domain.ParseRawEvent(raw)
	require.NoError(t, err)
	out, err := domain.SerializeCompletion(domain.NewCompletionEvent(req, domain.Result{Key: req.Key(), Attempts: 1}, nil))
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.OutputEvent{out}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testCompletionTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	ev, headers := readCompletion(ctx, t, consumer)
	assert.Equal(t, "20240110_12m", ev.Dirname)
	assert.Equal(t, domain.StatusDone, ev.Status)
	assert.Equal(t, "done", headers["status"])
	_, err = time.Parse(time.RFC3339, headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")
}

// TestWorkerEndToEnd wires Reader, Worker and Writer against a real broker.
// A malformed message is skipped and a duplicate request reports a conflict.
func TestWorkerEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testCompletionTopic)
	cfg := testConfig(broker, "test-worker")

	request := func(date, lake string) kafkago.Message {
		payload, err := json.Marshal(domain.ProcessRequest{Date: date, Lake: lake})
		require.NoError(t, err)
		return kafkago.Message{Key: []byte(lake), Value: payload}
	}
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testRequestTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		request("2024-01-10T12:00:00Z", "m"),
		request("2024-01-10T12:45:00Z", "m"),
		request("2024-01-10T13:00:00Z", "e"),
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	w := pipeline.NewWorker(reader, &stubProcessor{seen: map[string]bool{}}, writer, discardLogger(), metrics, 10)

	workerCtx, workerCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(workerCtx) }()

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testCompletionTopic,
		GroupID:     fmt.Sprintf("test-completions-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	statuses := map[string][]domain.CompletionStatus{}
	for range 3 {
		ev, _ := readCompletion(ctx, t, consumer)
		statuses[ev.Dirname] = append(statuses[ev.Dirname], ev.Status)
	}

	workerCancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []domain.CompletionStatus{domain.StatusDone, domain.StatusConflict}, statuses["20240110_12m"])
	assert.Equal(t, []domain.CompletionStatus{domain.StatusDone}, statuses["20240110_13e"])

	// The malformed message produced no completion event.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no fourth message on completion topic")
}
