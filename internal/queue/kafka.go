package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/panjf2000/ants/v2"
	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/logger"
)

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// KafkaPublisher publishes task messages to a Kafka topic, keyed by
// endpoint so tasks of one endpoint share a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer.
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, topic: cfg.Topic}, nil
}

// Publish sends msg and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, msg TaskMessage) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.SourceEndpointID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	logger.CtxDebug(ctx, "Published task for endpoint %s to partition=%d offset=%d", msg.SourceEndpointID, partition, offset)
	return nil
}

// Close shuts down the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaConsumer feeds task messages from a consumer group to a handler.
// Messages of one partition are handled in order; partitions run in
// parallel on a shared worker pool.
type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	handler Handler
	pool    *ants.Pool
	topic   string
	groupID string
}

// NewKafkaConsumer joins the configured consumer group.
// Parameters:
//   - cfg: brokers, topic and group id.
//   - workers: maximum concurrently handled tasks.
//   - handler: task handler.
// Returns:
//   - *KafkaConsumer: consumer ready to Run.
//   - error: non-nil if the group or pool cannot be created.
func NewKafkaConsumer(cfg *config.KafkaConfig, workers int, handler Handler) (*KafkaConsumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	pool, err := ants.NewPool(max(workers, 1))
	if err != nil {
		_ = group.Close()
		return nil, err
	}
	return &KafkaConsumer{
		group:   group,
		handler: handler,
		pool:    pool,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
	}, nil
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "kafka-consumer")

	go func() {
		for err := range c.group.Errors() {
			logger.CtxError(ctx, "Kafka consumer error: %v", err)
		}
	}()

	logger.CtxInfo(ctx, "Kafka consumer started (group: %s, topic: %s)", c.groupID, c.topic)
	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			logger.CtxError(ctx, "Error from Kafka consumer: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group and releases the pool.
func (c *KafkaConsumer) Close() error {
	err := c.group.Close()
	c.pool.Release()
	return err
}

type groupHandler struct {
	consumer *KafkaConsumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			msg, err := Decode(message.Value)
			if err != nil {
				// Malformed messages can never succeed; mark them so they are not redelivered.
				logger.CtxError(ctx, "Dropping message at partition=%d offset=%d: %v", message.Partition, message.Offset, err)
				session.MarkMessage(message, "")
				continue
			}

			if err := h.handle(ctx, msg); err != nil {
				logger.CtxError(ctx, "Failed to dispatch task: %v", err)
				return err
			}
			session.MarkMessage(message, "")

		case <-ctx.Done():
			return nil
		}
	}
}

// handle runs msg on the shared pool and waits for it to finish.
func (h *groupHandler) handle(ctx context.Context, msg TaskMessage) error {
	var wg sync.WaitGroup
	wg.Add(1)
	if err := h.consumer.pool.Submit(func() {
		defer wg.Done()
		h.consumer.handler.Handle(ctx, msg)
	}); err != nil {
		return err
	}
	wg.Wait()
	return nil
}
