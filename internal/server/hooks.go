package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"pensa/internal/config"
	"pensa/internal/domain"
	"pensa/internal/engine"
)

const (
	defaultHookInterval = 2 * time.Second
	defaultHookBatch    = 100
)

// HookDispatcher forwards audit events to the hooks configured in
// .pensa/config.yml. Each hook keeps its own cursor into the event log,
// starting at the newest event when the dispatcher first sees it, so a
// restart does not replay history. A failed delivery stops that hook's
// batch; the event is retried on the next tick.
type HookDispatcher struct {
	engine   engine.Engine
	hooks    []config.HookConfig
	client   *http.Client
	logger   *slog.Logger
	Interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

func NewHookDispatcher(e engine.Engine, hooks []config.HookConfig, logger *slog.Logger) *HookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookDispatcher{
		engine:   e,
		hooks:    hooks,
		client:   &http.Client{},
		logger:   logger.With("component", "hooks"),
		Interval: defaultHookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run dispatches on every tick until ctx is done. It returns immediately
// when no hook is enabled.
func (d *HookDispatcher) Run(ctx context.Context) {
	if !d.active() {
		return
	}
	if err := d.Prime(ctx); err != nil {
		d.logger.Warn("init cursors failed", "err", err)
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Dispatch(ctx)
		}
	}
}

func (d *HookDispatcher) active() bool {
	for _, h := range d.hooks {
		if h.IsEnabled() {
			return true
		}
	}
	return false
}

// Prime sets every hook without a cursor to the newest event.
func (d *HookDispatcher) Prime(ctx context.Context) error {
	latest, err := d.engine.LatestEventID(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.hooks {
		if _, ok := d.cursors[i]; !ok {
			d.cursors[i] = latest
		}
	}
	return nil
}

// Dispatch delivers pending events to every enabled hook once.
func (d *HookDispatcher) Dispatch(ctx context.Context) {
	for i, hook := range d.hooks {
		if !hook.IsEnabled() {
			continue
		}
		d.dispatchHook(ctx, i, hook)
	}
}

func (d *HookDispatcher) dispatchHook(ctx context.Context, idx int, hook config.HookConfig) {
	cursor, ok := d.cursorFor(idx)
	if !ok {
		if err := d.Prime(ctx); err != nil {
			d.logger.Warn("init cursors failed", "err", err)
		}
		return
	}
	events, err := d.engine.EventsAfter(ctx, cursor, defaultHookBatch)
	if err != nil {
		d.logger.Warn("fetch events failed", "err", err)
		return
	}
	for _, evt := range events {
		if hook.Wants(evt.EventType) {
			if err := d.postEvent(ctx, hook, evt); err != nil {
				d.logger.Warn("delivery failed", "url", hook.URL, "event_id", evt.ID, "err", err)
				return
			}
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *HookDispatcher) cursorFor(idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.cursors[idx]
	return cur, ok
}

func (d *HookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// HookPayload is the JSON body POSTed for each event.
type HookPayload struct {
	ID        int64            `json:"id"`
	IssueID   string           `json:"issue_id"`
	EventType domain.EventType `json:"event_type"`
	Actor     string           `json:"actor,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt string           `json:"created_at"`
}

func (d *HookDispatcher) postEvent(ctx context.Context, hook config.HookConfig, evt domain.Event) error {
	body := HookPayload{
		ID:        evt.ID,
		IssueID:   evt.IssueID,
		EventType: evt.EventType,
		CreatedAt: evt.CreatedAt,
	}
	if evt.Actor != nil {
		body.Actor = *evt.Actor
	}
	if evt.Detail != nil {
		body.Detail = *evt.Detail
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pensa-Event", string(evt.EventType))
	req.Header.Set("X-Pensa-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Pensa-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
