package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenAndMigrate(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), version)

	_, err = os.Stat(db.Path())
	assert.NoError(t, err, "database file was not created")

	// running again is a no-op
	require.NoError(t, db.RunMigrations())
	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"sessions": 0, "actions": 0, "cycle_errors": 0}, stats)
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Rollback(2))

	version, err := db.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	_, err = db.GetStats()
	assert.Error(t, err, "actions table should be gone")

	require.NoError(t, db.RunMigrations())
	version, err = db.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), version)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.StartSession("", "osu", "osu!", 0x1234)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	s, err := db.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, "osu", s.TargetID)
	assert.Equal(t, int64(0x1234), s.Handle)
	assert.Nil(t, s.EndedAt)

	require.NoError(t, db.EndSession(id))
	s, err = db.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, s.EndedAt)

	_, err = db.StartSession("fixed-id", "notepad", "Notepad", 1)
	require.NoError(t, err)
	sessions, err := db.ListSessions(10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestActionsAndErrors(t *testing.T) {
	db := openTestDB(t)
	id, err := db.StartSession("s1", "osu", "osu!", 1)
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := db.RecordAction(id, Action{Kind: "click", X: i, Y: 2 * i, Key: "z", Detector: "color", Score: 900, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	_, err = db.RecordAction("", Action{Kind: "miss"})
	require.NoError(t, err)

	recent, err := db.RecentActions(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "miss", recent[0].Kind)
	assert.Nil(t, recent[0].SessionID)
	assert.Equal(t, 2, recent[1].X)
	require.NotNil(t, recent[1].SessionID)
	assert.Equal(t, "s1", *recent[1].SessionID)

	counts, err := db.ActionCountsByKind(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"click": 3}, counts)

	_, err = db.RecordCycleError(id, "capture", "detection", "device busy")
	require.NoError(t, err)
	_, err = db.RecordCycleError(id, "capture", "invalid_region", "minimized")
	require.NoError(t, err)
	_, err = db.RecordCycleError("", "act", "actuation", "refused")
	require.NoError(t, err)

	byStage, err := db.GetErrorCountsByStage(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"capture": 2, "act": 1}, byStage)

	errs, err := db.GetRecentErrors(1)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "refused", errs[0].Message)
}

func TestActionForUnknownSessionFails(t *testing.T) {
	db := openTestDB(t)
	_, err := db.RecordAction("nope", Action{Kind: "click"})
	assert.Error(t, err)
}

func TestRecorderFollowsEvents(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewEventBus(16)
	defer bus.Stop()
	rec := NewRecorder(db, bus)

	bus.PublishSync(events.NewTargetConnectedEvent("osu", "osu!", 0x10, "sess-1"))
	assert.Equal(t, "sess-1", rec.Session())

	bus.PublishSync(events.NewActionEvent("click", 170, 120, "x", "color", 1256))
	bus.PublishSync(events.NewMissEvent("color"))
	bus.PublishSync(events.NewCycleErrorEvent("capture", "detection", errors.New("busy"), "osu"))

	actions, err := db.RecentActions(10)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	kinds := []string{actions[0].Kind, actions[1].Kind}
	assert.ElementsMatch(t, []string{"click", "miss"}, kinds)
	for _, a := range actions {
		require.NotNil(t, a.SessionID)
		assert.Equal(t, "sess-1", *a.SessionID)
	}

	errs, err := db.GetRecentErrors(10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "busy", errs[0].Message)

	bus.PublishSync(events.NewTargetDisconnectedEvent("osu", "sess-1"))
	assert.Empty(t, rec.Session())
	s, err := db.GetSession("sess-1")
	require.NoError(t, err)
	assert.NotNil(t, s.EndedAt)

	require.NoError(t, rec.Close())
}

func TestRecorderKeepsSessionAcrossAsyncReconnects(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewEventBus(64)
	defer bus.Stop()
	rec := NewRecorder(db, bus)
	defer rec.Close()

	bus.PublishSync(events.NewTargetConnectedEvent("osu", "osu!", 0x10, "sess-0"))
	for i := 1; i <= 25; i++ {
		prev, next := fmt.Sprintf("sess-%d", i-1), fmt.Sprintf("sess-%d", i)
		bus.Publish(events.NewTargetDisconnectedEvent("osu", prev))
		bus.Publish(events.NewTargetConnectedEvent("osu", "osu!", 0x10, next))

		require.Eventually(t, func() bool {
			s, err := db.GetSession(prev)
			return err == nil && s.EndedAt != nil && rec.Session() == next
		}, 2*time.Second, time.Millisecond, "reconnect %d", i)
	}

	bus.PublishSync(events.NewActionEvent("click", 1, 2, "z", "color", 10))
	actions, err := db.RecentActions(1)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].SessionID)
	assert.Equal(t, "sess-25", *actions[0].SessionID)

	s, err := db.GetSession("sess-25")
	require.NoError(t, err)
	assert.Nil(t, s.EndedAt)
}
