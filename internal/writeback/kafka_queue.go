package writeback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// KafkaQueueConfig holds configuration for the Kafka queue.
type KafkaQueueConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// ReadTimeout bounds the wait for each message of a Dequeue call.
	ReadTimeout  time.Duration
	RequiredAcks int // 0, 1, or -1 (all)
	MinBytes     int
	MaxBytes     int
	MaxWait      time.Duration
}

// kafkaWriter and kafkaReader are the parts of kafka-go used by the queue.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue implements core.WriteBackQueue on a Kafka topic. Messages are
// keyed by resource so that operations on one resource keep their order
// within a partition.
type KafkaQueue struct {
	writer      kafkaWriter
	reader      kafkaReader
	topic       string
	readTimeout time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
	size   int // approximate: produced minus consumed by this process
}

// NewKafkaQueue creates a producer and a consumer-group reader for config.Topic.
func NewKafkaQueue(config KafkaQueueConfig, logger *slog.Logger) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "mutator-writeback"
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	q := newKafkaQueue(writer, reader, config.Topic, config.ReadTimeout, logger)
	q.logger.Info("kafka queue ready", "brokers", config.Brokers, "group", config.GroupID)
	return q, nil
}

func newKafkaQueue(writer kafkaWriter, reader kafkaReader, topic string, readTimeout time.Duration, logger *slog.Logger) *KafkaQueue {
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaQueue{
		writer:      writer,
		reader:      reader,
		topic:       topic,
		readTimeout: readTimeout,
		logger:      logger.With("component", "writeback", "queue", "kafka", "topic", topic),
	}
}

// Enqueue produces operation to the topic and waits for the acknowledgement.
func (q *KafkaQueue) Enqueue(ctx context.Context, operation *core.WriteOperation) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := prepare(operation); err != nil {
		return err
	}

	data, err := encode(operation)
	if err != nil {
		return err
	}

	message := kafka.Message{
		Key:   []byte(operation.Resource),
		Value: data,
		Time:  operation.Timestamp,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation.Operation)},
			{Key: "resource", Value: []byte(operation.Resource)},
		},
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.logger.Debug("produced", "id", operation.ID, "operation", operation.Operation,
		"resource", operation.Resource, "duration", time.Since(start))
	return nil
}

// Dequeue fetches up to batchSize messages, waiting at most the read timeout
// for each, and commits the offsets of the returned batch.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.WriteOperation, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	operations := make([]*core.WriteOperation, 0, batchSize)
	messages := make([]kafka.Message, 0, batchSize)

	for len(messages) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.readTimeout)
		message, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
		}
		messages = append(messages, message)

		op, err := decode(message.Value)
		if err != nil {
			q.logger.Warn("dropping malformed message", "partition", message.Partition,
				"offset", message.Offset, "error", err)
			continue
		}
		operations = append(operations, op)
	}

	if len(messages) > 0 {
		if err := q.reader.CommitMessages(ctx, messages...); err != nil {
			q.logger.Warn("failed to commit offsets", "messages", len(messages), "error", err)
		}
	}

	if len(operations) > 0 {
		q.mu.Lock()
		q.size = max(q.size-len(operations), 0)
		q.mu.Unlock()
	}
	return operations, nil
}

// Size returns an approximate number of operations in the queue.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close closes the producer and the consumer.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return errors.Join(q.writer.Close(), q.reader.Close())
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
