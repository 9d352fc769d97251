package protocol

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// SOAPHandler posts an XML envelope with the appropriate SOAPAction header.
// It holds its own net/http client, built the same way as REST's; the wire
// difference is entirely in headers and body shape.
type SOAPHandler struct {
	client *http.Client
	logger *zap.Logger
}

func NewSOAPHandler(logger *zap.Logger, timeout time.Duration) *SOAPHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SOAPHandler{client: &http.Client{Timeout: timeout}, logger: logger}
}

func (h *SOAPHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	url, _ := step.Payload["url"].(string)
	envelope, _ := step.Payload["envelope"].(string)
	soapAction, _ := step.Payload["soapAction"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(envelope)))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if soapAction != "" {
		req.Header.Set("SOAPAction", soapAction)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return Result{
			Success:       false,
			Duration:      duration,
			RequestURL:    url,
			RequestMethod: http.MethodPost,
			RequestBody:   envelope,
			Error:         err.Error(),
			ShouldRecord:  true,
		}, nil
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	return Result{
		Success:       resp.StatusCode < 400,
		Status:        resp.StatusCode,
		StatusText:    resp.Status,
		Duration:      duration,
		Latency:       duration,
		SentBytes:     int64(len(envelope)),
		ResponseSize:  int64(len(respBody)),
		RequestURL:    url,
		RequestMethod: http.MethodPost,
		RequestBody:   envelope,
		ResponseBody:  string(respBody),
		ShouldRecord:  true,
	}, nil
}
