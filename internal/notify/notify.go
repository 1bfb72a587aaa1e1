// Package notify forwards detections and actions to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/logging"
)

// Config selects the webhook. An empty URL disables notifications.
type Config struct {
	URL      string        `mapstructure:"url"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{Cooldown: 2 * time.Second, Timeout: 500 * time.Millisecond}
}

// Payload is the JSON body posted for each forwarded event.
type Payload struct {
	Game        string                 `json:"game"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Timestamp   float64                `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Forwarded lists the event types sent to the webhook.
var Forwarded = []events.EventType{
	events.EventTypeTemplateDetected,
	events.EventTypeCycleAction,
}

// Notifier posts bus events, at most one per event type per cooldown.
// Events over the limit are dropped, never queued.
type Notifier struct {
	cfg    Config
	client *http.Client
	bus    events.EventBus
	subs   []events.SubscriptionID
	game   func() string
	log    *logging.Logger

	mu       sync.Mutex
	limiters map[events.EventType]*rate.Limiter
	sent     int64
	failed   int64
}

// New subscribes to the bus. game names the current target in payloads and
// may be nil.
func New(cfg Config, bus events.EventBus, game func() string) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify.url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if game == nil {
		game = func() string { return "" }
	}
	n := &Notifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		bus:      bus,
		game:     game,
		log:      logging.NewLogger("notify"),
		limiters: make(map[events.EventType]*rate.Limiter),
	}
	n.subs = bus.SubscribeMultiple(Forwarded, n.handle)
	n.log.InfoWithContext("Webhook notifications enabled", map[string]interface{}{
		"url":      cfg.URL,
		"cooldown": cfg.Cooldown.String(),
	})
	return n, nil
}

// Close unsubscribes from the bus.
func (n *Notifier) Close() {
	for _, id := range n.subs {
		n.bus.Unsubscribe(id)
	}
	n.subs = nil
}

// Stats returns how many posts succeeded and failed.
func (n *Notifier) Stats() (sent, failed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.failed
}

func (n *Notifier) allow(t events.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	lim, ok := n.limiters[t]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.cfg.Cooldown), 1)
		if n.cfg.Cooldown <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		}
		n.limiters[t] = lim
	}
	return lim.Allow()
}

func (n *Notifier) handle(e events.Event) {
	if !n.allow(e.Type) {
		return
	}
	p := n.payload(e)
	err := n.post(p)

	n.mu.Lock()
	if err != nil {
		n.failed++
	} else {
		n.sent++
	}
	n.mu.Unlock()

	if err != nil {
		n.log.WarnWithContext("Webhook post failed", map[string]interface{}{
			"type":  p.Type,
			"error": err.Error(),
		})
	}
}

func (n *Notifier) payload(e events.Event) Payload {
	p := Payload{
		Game:      n.game(),
		Timestamp: float64(e.Timestamp.UnixNano()) / float64(time.Second),
		Data:      e.Data,
	}
	switch e.Type {
	case events.EventTypeTemplateDetected:
		p.Type = "visual"
		p.Description = "Found object: " + e.String("template")
	case events.EventTypeCycleAction:
		p.Type = "action"
		p.Description = fmt.Sprintf("%s at (%d, %d)", e.String("kind"), e.Int("x"), e.Int("y"))
	default:
		p.Type = string(e.Type)
	}
	return p
}

func (n *Notifier) post(p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
