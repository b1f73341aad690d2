package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"momentum/internal/config"
	"momentum/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// webhookDispatcher posts store changes to configured webhooks.
type webhookDispatcher struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
	seq      atomic.Int64
}

// RunWebhooks subscribes to every store and delivers changes until ctx is
// done. It returns nil when no webhook is enabled.
func RunWebhooks(ctx context.Context, stores domain.Stores, hooks []config.WebhookConfig, logger *zap.Logger) error {
	var enabled []config.WebhookConfig
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		enabled = append(enabled, hook)
	}
	if len(enabled) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &webhookDispatcher{
		webhooks: enabled,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		now:      time.Now,
	}
	changes, stop := subscribeAll(stores)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			d.dispatchAll(ctx, c)
		}
	}
}

// subscribeAll merges the change feeds of every store into one channel.
func subscribeAll(stores domain.Stores) (<-chan domain.Change, func()) {
	type sub struct {
		ch     <-chan domain.Change
		cancel func()
	}
	subs := make([]sub, 0, 6)
	for _, s := range []interface {
		Subscribe() (<-chan domain.Change, func())
	}{stores.Events, stores.Tasks, stores.Habits, stores.Goals, stores.Milestones, stores.Categories} {
		ch, cancel := s.Subscribe()
		subs = append(subs, sub{ch, cancel})
	}
	out := make(chan domain.Change, 64)
	done := make(chan struct{})
	finished := make(chan struct{}, len(subs))
	for _, s := range subs {
		go func() {
			defer func() { finished <- struct{}{} }()
			for c := range s.ch {
				select {
				case out <- c:
				case <-done:
					return
				}
			}
		}()
	}
	return out, func() {
		close(done)
		for _, s := range subs {
			s.cancel()
		}
		for range subs {
			<-finished
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context, c domain.Change) {
	name := fmt.Sprintf("%s.%s", c.Kind, c.Op)
	delivery := d.seq.Add(1)
	for _, hook := range d.webhooks {
		if !newEventFilter(hook.Events).match(name) {
			continue
		}
		if err := d.postChange(ctx, hook, name, delivery, c); err != nil {
			d.logger.Warn("webhook delivery failed", zap.String("url", hook.URL), zap.String("event", name), zap.Error(err))
		}
	}
}

type webhookEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	TS         string `json:"ts"`
}

func (d *webhookDispatcher) postChange(ctx context.Context, hook config.WebhookConfig, name string, delivery int64, c domain.Change) error {
	body := webhookEvent{
		ID:         uuid.NewString(),
		Type:       name,
		EntityKind: string(c.Kind),
		EntityID:   c.ID,
		TS:         d.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Momentum-Event", name)
	req.Header.Set("X-Momentum-Delivery", fmt.Sprintf("%d", delivery))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Momentum-Secret", hook.Secret)
	}
	res, err := client.Do(req)
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
