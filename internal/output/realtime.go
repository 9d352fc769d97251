package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/loadforge/loadforge/internal/testplan"
)

// Endpoint is one real-time destination a RealtimeDispatcher fans a batch
// out to.
type Endpoint struct {
	Type   string // graphite | webhook | influxdb | websocket
	Target string // host:port or URL
	Tags   map[string]string
}

// RealtimeDispatcher fans a flushed batch out to every configured endpoint.
// Each endpoint send is independent: one failing send never blocks or
// fails the others, and every outcome is logged.
type RealtimeDispatcher struct {
	endpoints     []Endpoint
	testStartTime time.Time
	logger        *zap.Logger
	httpClient    *http.Client
}

// NewRealtimeDispatcher builds a dispatcher for the given endpoints.
func NewRealtimeDispatcher(endpoints []Endpoint, testStartTime time.Time, logger *zap.Logger) *RealtimeDispatcher {
	return &RealtimeDispatcher{
		endpoints:     endpoints,
		testStartTime: testStartTime,
		logger:        logger,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch sends batch to every endpoint, tagged with batchNumber.
func (d *RealtimeDispatcher) Dispatch(batch []testplan.TestResult, batchNumber int) {
	for _, ep := range d.endpoints {
		var err error
		switch ep.Type {
		case "graphite":
			err = d.sendGraphite(ep, batch)
		case "webhook":
			err = d.sendWebhook(ep, batch, batchNumber)
		case "influxdb":
			err = d.sendInfluxDB(ep, batch)
		case "websocket":
			err = d.sendWebSocket(ep, batch, batchNumber)
		default:
			continue
		}
		if err != nil && d.logger != nil {
			d.logger.Warn("real-time endpoint send failed",
				zap.String("type", ep.Type), zap.String("target", ep.Target), zap.Error(err))
		} else if d.logger != nil {
			d.logger.Debug("real-time endpoint send ok",
				zap.String("type", ep.Type), zap.String("target", ep.Target), zap.Int("count", len(batch)))
		}
	}
}

// sendGraphite opens one TCP connection and writes "metric value ts\n" per
// result's response time, graphite plaintext protocol.
func (d *RealtimeDispatcher) sendGraphite(ep Endpoint, batch []testplan.TestResult) error {
	conn, err := net.DialTimeout("tcp", ep.Target, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	var buf bytes.Buffer
	for _, r := range batch {
		ts := r.Timestamp / 1000
		fmt.Fprintf(&buf, "loadforge.%s.%s.response_time %d %d\n", sanitizeMetric(r.Scenario), sanitizeMetric(r.StepName), r.ResponseTime.Milliseconds(), ts)
	}
	_, err = conn.Write(buf.Bytes())
	return err
}

func sanitizeMetric(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

type webhookPayload struct {
	Timestamp     int64          `json:"timestamp"`
	BatchNumber   int            `json:"batch_number"`
	BatchSize     int            `json:"batch_size"`
	TestStartTime int64          `json:"test_start_time"`
	Results       []resultRecord `json:"results"`
}

func (d *RealtimeDispatcher) sendWebhook(ep Endpoint, batch []testplan.TestResult, batchNumber int) error {
	recs := make([]resultRecord, len(batch))
	for i, r := range batch {
		recs[i] = toRecord(r)
	}
	payload := webhookPayload{
		Timestamp:     time.Now().UnixMilli(),
		BatchNumber:   batchNumber,
		BatchSize:     len(batch),
		TestStartTime: d.testStartTime.UnixMilli(),
		Results:       recs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Post(ep.Target, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// sendInfluxDB posts line-protocol points with nanosecond timestamps.
func (d *RealtimeDispatcher) sendInfluxDB(ep Endpoint, batch []testplan.TestResult) error {
	var buf bytes.Buffer
	for _, r := range batch {
		tags := fmt.Sprintf("scenario=%s,step=%s,success=%t", sanitizeMetric(r.Scenario), sanitizeMetric(r.StepName), r.Success)
		fmt.Fprintf(&buf, "test_result,%s response_time=%d,status=%di %d\n", tags, r.ResponseTime.Milliseconds(), r.Status, r.Timestamp*int64(time.Millisecond))
	}
	resp, err := d.httpClient.Post(ep.Target, "text/plain", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influxdb endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// sendWebSocket dials the target, writes one JSON text message, and closes
// — a single-shot send, not a persistent subscriber connection.
func (d *RealtimeDispatcher) sendWebSocket(ep Endpoint, batch []testplan.TestResult, batchNumber int) error {
	conn, _, err := websocket.DefaultDialer.Dial(ep.Target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	recs := make([]resultRecord, len(batch))
	for i, r := range batch {
		recs[i] = toRecord(r)
	}
	payload := webhookPayload{
		Timestamp:     time.Now().UnixMilli(),
		BatchNumber:   batchNumber,
		BatchSize:     len(batch),
		TestStartTime: d.testStartTime.UnixMilli(),
		Results:       recs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, body)
}
