package custom

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// WebSocketHandler sends a single message to a target websocket endpoint and
// optionally waits for one reply, under the "custom" step family.
type WebSocketHandler struct {
	logger *zap.Logger
	dialer *websocket.Dialer
}

// NewWebSocketHandler builds a WebSocketHandler.
func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{logger: logger, dialer: websocket.DefaultDialer}
}

func (h *WebSocketHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (protocol.Result, error) {
	action, _ := step.Payload["action"].(string)
	if action != "websocket.send" {
		return protocol.Result{Success: false, Error: fmt.Sprintf("custom/websocket: unknown action %q", action)}, nil
	}

	url, _ := step.Payload["url"].(string)
	message, _ := step.Payload["message"].(string)
	expectReply, _ := step.Payload["expectReply"].(bool)

	start := time.Now()
	conn, _, err := h.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return protocol.Result{Success: false, Duration: time.Since(start), Error: err.Error(), ShouldRecord: true}, nil
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		return protocol.Result{Success: false, Duration: time.Since(start), Error: err.Error(), ShouldRecord: true}, nil
	}

	if !expectReply {
		return protocol.Result{
			Success:      true,
			Duration:     time.Since(start),
			SentBytes:    int64(len(message)),
			ShouldRecord: true,
		}, nil
	}

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, reply, err := conn.ReadMessage()
	duration := time.Since(start)
	if err != nil {
		return protocol.Result{Success: false, Duration: duration, Error: err.Error(), ShouldRecord: true}, nil
	}
	return protocol.Result{
		Success:      true,
		Duration:     duration,
		SentBytes:    int64(len(message)),
		ResponseBody: string(reply),
		ResponseSize: int64(len(reply)),
		ShouldRecord: true,
	}, nil
}
