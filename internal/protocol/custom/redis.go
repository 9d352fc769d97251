package custom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHandler runs get/set/incr against a target Redis instance under test.
type RedisHandler struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewRedisHandler builds an empty, lazily-connecting RedisHandler.
func NewRedisHandler(logger *zap.Logger) *RedisHandler {
	return &RedisHandler{logger: logger, clients: make(map[string]*redis.Client)}
}

// Close releases every client this handler opened. Call once per test run.
func (h *RedisHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		_ = c.Close()
	}
}

func (h *RedisHandler) client(addr string) *redis.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	h.clients[addr] = c
	return c
}

func (h *RedisHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	action, _ := step.Payload["action"].(string)
	addr, _ := step.Payload["addr"].(string)
	key, _ := step.Payload["key"].(string)
	client := h.client(addr)

	start := time.Now()
	switch action {
	case "redis.get":
		val, err := client.Get(ctx, key).Result()
		duration := time.Since(start)
		if err == redis.Nil {
			return protocol.Result{Success: true, Duration: duration, ShouldRecord: true, ResponseBody: ""}, nil
		}
		if err != nil {
			return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
		}
		return protocol.Result{Success: true, Duration: duration, ResponseBody: val, ResponseSize: int64(len(val)), ShouldRecord: true}, nil

	case "redis.set":
		value, _ := step.Payload["value"].(string)
		ttl, _ := step.Payload["ttl"].(float64)
		err := client.Set(ctx, key, value, time.Duration(ttl)*time.Second).Err()
		duration := time.Since(start)
		if err != nil {
			return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
		}
		return protocol.Result{Success: true, Duration: duration, SentBytes: int64(len(value)), ShouldRecord: true}, nil

	case "redis.incr":
		n, err := client.Incr(ctx, key).Result()
		duration := time.Since(start)
		if err != nil {
			return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
		}
		return protocol.Result{
			Success:       true,
			Duration:      duration,
			ShouldRecord:  true,
			CustomMetrics: map[string]interface{}{"value": n},
		}, nil

	default:
		return protocol.Result{Success: false, Error: fmt.Sprintf("custom/redis: unknown action %q", action)}, nil
	}
}
