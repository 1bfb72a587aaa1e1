package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jordanella.com/aimloop/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"), goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type sink struct {
	mu       sync.Mutex
	payloads []Payload
	status   int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
}

func (s *sink) got() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.payloads...)
}

func newNotifier(t *testing.T, s *sink, cooldown time.Duration) (*Notifier, *events.DefaultEventBus) {
	t.Helper()
	srv := httptest.NewServer(s)
	bus := events.NewEventBus(16)
	n, err := New(Config{URL: srv.URL, Cooldown: cooldown, Timeout: time.Second}, bus, func() string { return "osu" })
	require.NoError(t, err)
	t.Cleanup(func() {
		n.Close()
		bus.Stop()
		n.client.CloseIdleConnections()
		srv.Close()
	})
	return n, bus
}

func TestForwardsTemplateDetection(t *testing.T) {
	s := &sink{}
	_, bus := newNotifier(t, s, time.Minute)

	bus.PublishSync(events.NewTemplateDetectedEvent("play_button", 120, 80, 0.93))

	got := s.got()
	require.Len(t, got, 1)
	assert.Equal(t, "osu", got[0].Game)
	assert.Equal(t, "visual", got[0].Type)
	assert.Equal(t, "Found object: play_button", got[0].Description)
	assert.Positive(t, got[0].Timestamp)
	assert.EqualValues(t, 120, got[0].Data["x"])
}

func TestCooldownIsPerEventType(t *testing.T) {
	s := &sink{}
	n, bus := newNotifier(t, s, time.Minute)

	bus.PublishSync(events.NewTemplateDetectedEvent("a", 1, 1, 0.9))
	bus.PublishSync(events.NewTemplateDetectedEvent("b", 2, 2, 0.9))
	bus.PublishSync(events.NewActionEvent("click", 10, 20, "z", "color", 500))
	bus.PublishSync(events.NewActionEvent("click", 11, 21, "x", "color", 500))

	got := s.got()
	require.Len(t, got, 2)
	assert.Equal(t, "Found object: a", got[0].Description)
	assert.Equal(t, "click at (10, 20)", got[1].Description)

	sent, failed := n.Stats()
	assert.EqualValues(t, 2, sent)
	assert.Zero(t, failed)
}

func TestIgnoresOtherEvents(t *testing.T) {
	s := &sink{}
	_, bus := newNotifier(t, s, 0)

	bus.PublishSync(events.NewMissEvent("color"))
	bus.PublishSync(events.NewLoopStartedEvent("osu", "hybrid"))
	assert.Empty(t, s.got())
}

func TestCountsFailures(t *testing.T) {
	s := &sink{status: http.StatusInternalServerError}
	n, bus := newNotifier(t, s, 0)

	bus.PublishSync(events.NewActionEvent("click", 1, 1, "", "color", 1))
	sent, failed := n.Stats()
	assert.Zero(t, sent)
	assert.EqualValues(t, 1, failed)
}

func TestRequiresURL(t *testing.T) {
	bus := events.NewEventBus(1)
	defer bus.Stop()
	_, err := New(Config{}, bus, nil)
	assert.Error(t, err)
}
