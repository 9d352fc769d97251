// Package custom implements the C4 "custom" step variant's action
// dispatch table: concrete handlers for actions against a target system
// under test (db/kafka/redis/websocket), generalising the source's
// plugin-action registry into a fixed table of built-in handlers.
package custom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBHandler runs SQL queries (and poll-until-condition checks) against a
// target Postgres database under test. This is distinct from, and never
// used for, the engine's own result storage — that would violate the
// engine's append-only-file/no-database design.
type DBHandler struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*gorm.DB
}

// NewDBHandler builds an empty, lazily-connecting DBHandler.
func NewDBHandler(logger *zap.Logger) *DBHandler {
	return &DBHandler{logger: logger, conns: make(map[string]*gorm.DB)}
}

func (h *DBHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	action, _ := step.Payload["action"].(string)
	dsn, _ := step.Payload["dsn"].(string)
	query, _ := step.Payload["query"].(string)

	db, err := h.connect(dsn)
	if err != nil {
		return protocol.Result{Success: false, Error: err.Error(), ShouldRecord: true}, nil
	}

	start := time.Now()
	switch action {
	case "db.query":
		var rows []map[string]interface{}
		err = db.WithContext(ctx).Raw(query).Scan(&rows).Error
		duration := time.Since(start)
		if err != nil {
			return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
		}
		return protocol.Result{
			Success:       true,
			Duration:      duration,
			ShouldRecord:  true,
			CustomMetrics: map[string]interface{}{"row_count": len(rows)},
		}, nil

	case "db.exec":
		result := db.WithContext(ctx).Exec(query)
		duration := time.Since(start)
		if result.Error != nil {
			return protocol.Result{Success: false, Duration: duration, Error: result.Error.Error(), ShouldRecord: true}, nil
		}
		return protocol.Result{
			Success:       true,
			Duration:      duration,
			ShouldRecord:  true,
			CustomMetrics: map[string]interface{}{"rows_affected": result.RowsAffected},
		}, nil

	case "db.pollUntil":
		return h.pollUntil(ctx, db, step)

	default:
		return protocol.Result{Success: false, Error: fmt.Sprintf("custom/db: unknown action %q", action)}, nil
	}
}

// pollUntil repeatedly runs query until a row is returned or the step
// context deadline is reached, for asserting eventual-consistency effects
// (e.g. a message landed in an outbox table).
func (h *DBHandler) pollUntil(ctx context.Context, db *gorm.DB, step testplan.Step) (protocol.Result, error) {
	query, _ := step.Payload["query"].(string)
	interval := 250 * time.Millisecond
	start := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var rows []map[string]interface{}
		if err := db.WithContext(ctx).Raw(query).Scan(&rows).Error; err == nil && len(rows) > 0 {
			return protocol.Result{
				Success:       true,
				Duration:      time.Since(start),
				ShouldRecord:  true,
				CustomMetrics: map[string]interface{}{"row_count": len(rows)},
			}, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Result{
				Success:      false,
				Duration:     time.Since(start),
				Error:        "db.pollUntil: deadline exceeded before condition met",
				ShouldRecord: true,
			}, nil
		case <-ticker.C:
		}
	}
}

func (h *DBHandler) connect(dsn string) (*gorm.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if db, ok := h.conns[dsn]; ok {
		return db, nil
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}
	h.conns[dsn] = db
	return db, nil
}
