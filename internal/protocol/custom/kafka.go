package custom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// KafkaHandler produces to and consumes from a target Kafka cluster under
// test, using one shared sync producer per broker set.
type KafkaHandler struct {
	logger *zap.Logger

	mu        sync.Mutex
	producers map[string]sarama.SyncProducer
}

// NewKafkaHandler builds an empty, lazily-connecting KafkaHandler.
func NewKafkaHandler(logger *zap.Logger) *KafkaHandler {
	return &KafkaHandler{logger: logger, producers: make(map[string]sarama.SyncProducer)}
}

// Close releases every producer this handler opened. Call once per test run.
func (h *KafkaHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.producers {
		_ = p.Close()
	}
}

func (h *KafkaHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	action, _ := step.Payload["action"].(string)
	brokersRaw, _ := step.Payload["brokers"].(string)
	topic, _ := step.Payload["topic"].(string)

	switch action {
	case "kafka.produce":
		key, _ := step.Payload["key"].(string)
		value, _ := step.Payload["value"].(string)
		return h.produce(brokersRaw, topic, key, value)
	case "kafka.consume":
		timeout, _ := step.Payload["timeout"].(float64)
		return h.consume(ctx, brokersRaw, topic, time.Duration(timeout)*time.Millisecond)
	default:
		return protocol.Result{Success: false, Error: fmt.Sprintf("custom/kafka: unknown action %q", action)}, nil
	}
}

func (h *KafkaHandler) producer(brokersRaw string) (sarama.SyncProducer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.producers[brokersRaw]; ok {
		return p, nil
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(strings.Split(brokersRaw, ","), cfg)
	if err != nil {
		return nil, err
	}
	h.producers[brokersRaw] = p
	return p, nil
}

func (h *KafkaHandler) produce(brokersRaw, topic, key, value string) (protocol.Result, error) {
	start := time.Now()
	p, err := h.producer(brokersRaw)
	if err != nil {
		return protocol.Result{Success: false, Error: err.Error(), ShouldRecord: true}, nil
	}

	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.StringEncoder(value)}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := p.SendMessage(msg)
	duration := time.Since(start)
	if err != nil {
		return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
	}
	return protocol.Result{
		Success:      true,
		Duration:     duration,
		SentBytes:    int64(len(value)),
		ShouldRecord: true,
		CustomMetrics: map[string]interface{}{
			"partition": partition,
			"offset":    offset,
		},
	}, nil
}

func (h *KafkaHandler) consume(ctx context.Context, brokersRaw, topic string, timeout time.Duration) (protocol.Result, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	start := time.Now()

	consumer, err := sarama.NewConsumer(strings.Split(brokersRaw, ","), sarama.NewConfig())
	if err != nil {
		return protocol.Result{Success: false, Error: err.Error(), ShouldRecord: true}, nil
	}
	defer consumer.Close()

	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return protocol.Result{Success: false, Error: err.Error(), ShouldRecord: true}, nil
	}
	defer partitionConsumer.Close()

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg := <-partitionConsumer.Messages():
		return protocol.Result{
			Success:      true,
			Duration:     time.Since(start),
			ResponseSize: int64(len(msg.Value)),
			ResponseBody: string(msg.Value),
			ShouldRecord: true,
		}, nil
	case <-deadline.Done():
		return protocol.Result{
			Success:      false,
			Duration:     time.Since(start),
			Error:        "kafka.consume: no message before deadline",
			ShouldRecord: true,
		}, nil
	}
}
