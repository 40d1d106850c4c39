package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
)

type signal struct {
	eventType models.EventType
	data      map[string]any
	recorded  bool
}

func setup(t *testing.T, recording bool) (*Bridge, *recorder.Recorder, *[]signal) {
	t.Helper()
	rec := recorder.New()
	if recording {
		rec.Start()
	}
	var signals []signal
	b := New(rec, ListenerFunc(func(eventType models.EventType, data map[string]any, recorded bool) {
		signals = append(signals, signal{eventType, data, recorded})
	}))
	return b, rec, &signals
}

func TestConsoleMessage(t *testing.T) {
	b, rec, signals := setup(t, true)
	b.ConsoleMessage("warning", "deprecated api", 42, "https://example.com/app.js")

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventConsoleMessage, events[0].Type)
	assert.Equal(t, map[string]any{
		"level":   "warning",
		"message": "deprecated api",
		"line":    42.0,
		"source":  "https://example.com/app.js",
	}, events[0].Data)
	require.Len(t, *signals, 1)
	assert.True(t, (*signals)[0].recorded)
}

func TestNavigationRequestAlwaysAllowed(t *testing.T) {
	tests := []struct {
		name       string
		recording  bool
		mainFrame  bool
		wantEvents int
	}{
		{"recording main frame", true, true, 1},
		{"recording subframe", true, false, 0},
		{"idle main frame", false, true, 0},
		{"idle subframe", false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, rec, _ := setup(t, tt.recording)
			assert.True(t, b.NavigationRequest("https://example.com/next", "linkClicked", tt.mainFrame))
			assert.Equal(t, tt.wantEvents, rec.Len())
		})
	}
}

func TestNavigationRequestData(t *testing.T) {
	b, rec, _ := setup(t, true)
	b.NavigationRequest("https://example.com/next", "formSubmissionGet", true)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNavigationRequest, events[0].Type)
	assert.Equal(t, "https://example.com/next", events[0].Data["url"])
	assert.Equal(t, "formSubmissionGet", events[0].Data["type"])
}

func TestNotRecordingStillNotifiesListener(t *testing.T) {
	b, rec, signals := setup(t, false)
	b.URLChanged("https://example.com")
	b.ConsoleMessage("log", "x", 1, "")

	assert.Zero(t, rec.Len())
	require.Len(t, *signals, 2)
	assert.False(t, (*signals)[0].recorded)
}

func TestLoadFinished(t *testing.T) {
	b, rec, signals := setup(t, true)
	b.LoadFinished(false, "https://broken.example")
	assert.Zero(t, rec.Len())
	require.Len(t, *signals, 1)
	assert.Equal(t, false, (*signals)[0].data["ok"])

	b.LoadFinished(true, "https://example.com/")
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPageLoaded, events[0].Type)
	assert.Equal(t, "https://example.com/", events[0].Data["url"])
}

func TestInteraction(t *testing.T) {
	b, rec, _ := setup(t, true)
	require.NoError(t, b.Interaction(models.EventClick, map[string]any{"x": 1.0, "y": 2.0}))
	require.NoError(t, b.Interaction(models.EventInput, map[string]any{"x": 1.0, "y": 2.0, "value": "a"}))
	assert.Error(t, b.Interaction(models.EventNavigation, map[string]any{"url": "x"}))
	assert.Equal(t, 2, rec.Len())
}

func TestNilListener(t *testing.T) {
	rec := recorder.New()
	rec.Start()
	b := New(rec, nil)
	b.URLChanged("https://example.com")
	b.LoadFinished(false, "")
	assert.Equal(t, 1, rec.Len())
}
