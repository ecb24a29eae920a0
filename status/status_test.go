package status

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/handyconnect/liveupdate/connection"
	"github.com/handyconnect/liveupdate/events"
	"github.com/stretchr/testify/assert"
)

func TestPreferencesPersistence(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "prefs.json")

	// Missing file yields defaults
	uut, err := GetPreferencesInstance(path)
	assert.Nil(err)
	assert.False(uut.Muted())

	assert.Nil(uut.SetMuted(true))
	assert.True(uut.Muted())

	// The toggle survives a restart
	reloaded, err := GetPreferencesInstance(path)
	assert.Nil(err)
	assert.True(reloaded.Muted())

	assert.Nil(reloaded.SetMuted(false))
	reloaded, err = GetPreferencesInstance(path)
	assert.Nil(err)
	assert.False(reloaded.Muted())
}

func TestPreferencesCorruptFile(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "prefs.json")
	assert.Nil(os.WriteFile(path, []byte("{not json"), 0o644))

	// Corruption falls back to defaults instead of failing startup
	uut, err := GetPreferencesInstance(path)
	assert.Nil(err)
	assert.False(uut.Muted())
}

func TestNotifierMute(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "prefs.json")
	prefs, err := GetPreferencesInstance(path)
	assert.Nil(err)

	var toasts []string
	uut, err := GetNotifierInstance("testing", prefs, func(message string) {
		toasts = append(toasts, message)
	})
	assert.Nil(err)

	uut.NotifyEntityCreated(1)
	assert.Equal([]string{"New item received"}, toasts)
	uut.NotifyEntityCreated(3)
	assert.Equal([]string{"New item received", "New items received"}, toasts)

	// Muting suppresses entity toasts
	assert.Nil(prefs.SetMuted(true))
	uut.NotifyEntityCreated(1)
	assert.Len(toasts, 2)

	// Connectivity toasts ignore the mute preference
	uut.NotifyConnectivity("Live updates restored")
	assert.Len(toasts, 3)
	assert.Equal(3, uut.ToastCount())
}

func TestDiagnosticLogBound(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetDiagnosticLogInstance("testing", 3)
	assert.Nil(err)
	assert.Empty(uut.Snapshot())

	for idx := 0; idx < 5; idx++ {
		uut.RecordEvent(events.NewInboundEvent(events.Envelope{
			Type:    events.TypeEntityUpdated,
			Payload: []byte(fmt.Sprintf(`{"id": "task-%d"}`, idx)),
		}, time.Now()))
	}

	// Only the trailing window survives, oldest first
	snapshot := uut.Snapshot()
	assert.Len(snapshot, 3)
	assert.Equal("entity-updated/task-2", snapshot[0].DedupeKey)
	assert.Equal("entity-updated/task-3", snapshot[1].DedupeKey)
	assert.Equal("entity-updated/task-4", snapshot[2].DedupeKey)
	assert.False(snapshot[0].ProcessedAt.IsZero())
}

func TestIndicatorRendering(t *testing.T) {
	assert := assert.New(t)

	var seen []RenderedState
	uut, err := GetIndicatorInstance("testing", func(
		state connection.ConnectionState, rendered RenderedState,
	) {
		seen = append(seen, rendered)
	})
	assert.Nil(err)

	uut.SetState(connection.StateConnected)
	assert.Equal(connection.StateConnected, uut.CurrentState())
	assert.Equal(RenderedState{Label: "Live updates on", Treatment: "ok"}, uut.Rendered())

	uut.SetState(connection.StateDisconnected)
	assert.Equal(RenderedState{Label: "Reconnecting...", Treatment: "warn"}, uut.Rendered())

	uut.SetState(connection.StatePolling)
	assert.Equal(RenderedState{Label: "Periodic refresh", Treatment: "muted"}, uut.Rendered())

	// The listener saw every repaint in order
	assert.Len(seen, 3)
	assert.Equal("ok", seen[0].Treatment)
	assert.Equal("warn", seen[1].Treatment)
	assert.Equal("muted", seen[2].Treatment)
}
