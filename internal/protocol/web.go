package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// WebHandler drives a headless browser through chromedp as the one concrete
// implementation behind the engine's opaque browser protocol-handler
// contract. It is not a browser-automation framework of its own — the
// vocabulary below (navigate/click/type/waitFor) is deliberately narrow.
//
// shouldRecord is true only for "verify"/"waitFor" commands, per spec §4.5:
// navigation and interaction commands still run (and can fail the step) but
// do not themselves produce a recorded result unless they assert something.
type WebHandler struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// NewWebHandler starts one shared headless-Chrome allocator for the VU pool
// that owns it; callers create a fresh tab (chromedp.NewContext) per step.
func NewWebHandler(logger *zap.Logger) *WebHandler {
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	return &WebHandler{allocCtx: allocCtx, cancel: cancel, logger: logger}
}

// Close releases the browser allocator. Call once per test run.
func (h *WebHandler) Close() {
	h.cancel()
}

func (h *WebHandler) Execute(ctx context.Context, step testplan.Step, vu *testplan.VUContext) (Result, error) {
	command, _ := step.Payload["command"].(string)
	url, _ := step.Payload["url"].(string)
	selector, _ := step.Payload["selector"].(string)
	value, _ := step.Payload["value"].(string)

	tabCtx, tabCancel := chromedp.NewContext(h.allocCtx)
	defer tabCancel()

	start := time.Now()
	var actions []chromedp.Action
	shouldRecord := false

	switch command {
	case "navigate":
		actions = append(actions, chromedp.Navigate(url))
	case "click":
		actions = append(actions, chromedp.Click(selector, chromedp.ByQuery))
	case "type":
		actions = append(actions, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	case "waitFor":
		actions = append(actions, chromedp.WaitVisible(selector, chromedp.ByQuery))
		shouldRecord = true
	case "verify":
		var text string
		actions = append(actions, chromedp.Text(selector, &text, chromedp.ByQuery))
		shouldRecord = true
	default:
		return Result{Success: false, Error: fmt.Sprintf("protocol: unknown web command %q", command)}, nil
	}

	err := chromedp.Run(tabCtx, actions...)
	duration := time.Since(start)
	if err != nil {
		return Result{
			Success:      false,
			Duration:     duration,
			RequestURL:   url,
			Error:        err.Error(),
			ShouldRecord: true,
		}, nil
	}

	return Result{
		Success:      true,
		Duration:     duration,
		RequestURL:   url,
		ShouldRecord: shouldRecord,
	}, nil
}
