package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// RESTHandler executes HTTP requests. It additionally honours jsonFile
// loading with dot-path overrides, synthesising the request's json payload
// before hand-off, per spec §4.4.
type RESTHandler struct {
	client *http.Client
	logger *zap.Logger
}

// NewRESTHandler builds a RESTHandler with its own connection pool.
func NewRESTHandler(logger *zap.Logger, timeout time.Duration) *RESTHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTHandler{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (h *RESTHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	url, _ := step.Payload["url"].(string)
	method, _ := step.Payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, err := h.buildBody(step)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	headers := map[string]string{}
	if raw, ok := step.Payload["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
				req.Header.Set(k, s)
			}
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return Result{
			Success:        false,
			Duration:       duration,
			RequestURL:     url,
			RequestMethod:  method,
			RequestHeaders: headers,
			RequestBody:    string(body),
			Error:          err.Error(),
			ShouldRecord:   true,
		}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	respHeaders := map[string]string{}
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return Result{
		Success:         resp.StatusCode < 400,
		Status:          resp.StatusCode,
		StatusText:      resp.Status,
		Duration:        duration,
		Latency:         duration,
		SentBytes:       int64(len(body)),
		ResponseSize:    int64(len(respBody)),
		RequestURL:      url,
		RequestMethod:   method,
		RequestHeaders:  headers,
		RequestBody:     string(body),
		ResponseHeaders: respHeaders,
		ResponseBody:    string(respBody),
		ShouldRecord:    true,
	}, nil
}

// buildBody synthesises the request body. If jsonFile is set, it loads the
// referenced file and applies dot-path overrides (values are expected to
// already be template-processed by the time Execute runs) before re-encoding.
func (h *RESTHandler) buildBody(step testplan.Step) ([]byte, error) {
	if jsonFile, ok := step.Payload["jsonFile"].(string); ok && jsonFile != "" {
		raw, err := os.ReadFile(jsonFile)
		if err != nil {
			return nil, err
		}
		if overrides, ok := step.Payload["overrides"].(map[string]interface{}); ok {
			return applyOverrides(raw, overrides)
		}
		return raw, nil
	}
	if body, ok := step.Payload["body"]; ok {
		switch v := body.(type) {
		case string:
			return []byte(v), nil
		default:
			return json.Marshal(v)
		}
	}
	return nil, nil
}

// applyOverrides sets each dot-path override onto the parsed JSON document,
// grounded on gjson's sjson-adjacent dot-path addressing.
func applyOverrides(raw []byte, overrides map[string]interface{}) ([]byte, error) {
	doc := string(raw)
	result := gjson.ParseBytes(raw)
	out := make(map[string]interface{})
	if result.IsObject() {
		result.ForEach(func(key, value gjson.Result) bool {
			out[key.String()] = value.Value()
			return true
		})
	}
	for path, val := range overrides {
		setDotPath(out, path, val)
	}
	_ = doc
	return json.Marshal(out)
}

func setDotPath(m map[string]interface{}, path string, val interface{}) {
	parts := splitPath(path)
	cur := m
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = val
			return
		}
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i, c := range path {
		if c == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
