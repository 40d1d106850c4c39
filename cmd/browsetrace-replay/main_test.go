package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-replay/internal/database"
	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
	"github.com/vincentbai/browsetrace-replay/internal/replayer"
)

func floatPtr(v float64) *float64 { return &v }

func sampleSession() models.Session {
	return models.Session{
		StartTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Events: []models.Event{
			{Timestamp: 0.5, Type: models.EventNavigation, Data: map[string]any{"url": "https://example.com/"}},
			{Timestamp: 1.25, Type: models.EventClick, Data: map[string]any{"x": 10.0, "y": 20.0}},
			{Timestamp: 2, Type: models.EventClick, Data: map[string]any{"x": 30.0, "y": 40.0}, Delay: floatPtr(2)},
		},
	}
}

func writeSessionFile(t *testing.T, session models.Session) string {
	t.Helper()
	rec := recorder.New()
	rec.Replace(session)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, rec.Save(path))
	return path
}

func TestWriteSummary(t *testing.T) {
	var out bytes.Buffer
	session := sampleSession()
	writeSummary(&out, session, session.StartTime.Add(3*time.Hour), false)

	text := out.String()
	assert.Contains(t, text, "Recorded:  2024-05-01T10:00:00Z (3 hours ago)")
	assert.Contains(t, text, "Events:    3")
	assert.Contains(t, text, "Duration:  2s")
	assert.Contains(t, text, "Replay:    3s")
	assert.Regexp(t, `click\s+2`, text)
	assert.Regexp(t, `navigation\s+1`, text)
	assert.NotContains(t, text, "page_loaded")
	assert.NotContains(t, text, "https://example.com/")
}

func TestWriteSummaryVerbose(t *testing.T) {
	var out bytes.Buffer
	writeSummary(&out, sampleSession(), time.Now(), true)
	assert.Contains(t, out.String(), "https://example.com/")
}

func TestWriteSummaryEmpty(t *testing.T) {
	var out bytes.Buffer
	writeSummary(&out, models.Session{}, time.Now(), false)
	assert.Contains(t, out.String(), "Recorded:  unknown")
	assert.Contains(t, out.String(), "Events:    0")
}

func TestInspectCommand(t *testing.T) {
	path := writeSessionFile(t, sampleSession())

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Events:    3")
}

func TestInspectCommandMissingFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorIs(t, cmd.Execute(), recorder.ErrRead)
}

func TestArchiveImportExport(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	path := writeSessionFile(t, sampleSession())
	id, err := importSession(db, path, "")
	require.NoError(t, err)

	summaries, err := db.ListSessions()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "session", summaries[0].Name)
	assert.Equal(t, 3, summaries[0].EventCount)

	exported := filepath.Join(t.TempDir(), "exported.json")
	require.NoError(t, exportSession(db, id, exported))

	session, err := recorder.ReadFile(exported)
	require.NoError(t, err)
	assert.True(t, session.StartTime.Equal(sampleSession().StartTime))
	require.Len(t, session.Events, 3)
	assert.Equal(t, models.EventClick, session.Events[2].Type)
	require.NotNil(t, session.Events[2].Delay)
	assert.Equal(t, 2.0, *session.Events[2].Delay)

	var out bytes.Buffer
	writeArchiveList(&out, summaries, time.Now())
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "session")
}

func TestArchiveImportNamed(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = importSession(db, writeSessionFile(t, sampleSession()), "checkout flow")
	require.NoError(t, err)

	summaries, err := db.ListSessions()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "checkout flow", summaries[0].Name)
}

func TestArchiveImportRejectsMissingStartTime(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	path := filepath.Join(t.TempDir(), "bare.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"start_time": "", "events": []}`), 0o644))
	_, err = importSession(db, path, "")
	assert.Error(t, err)
}

func TestExportUnknownSession(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, exportSession(db, "does-not-exist", filepath.Join(t.TempDir(), "out.json")))
}

func TestPrintNotification(t *testing.T) {
	tests := []struct {
		name string
		n    replayer.Notification
		want string
	}{
		{"progress", replayer.Notification{Kind: replayer.KindProgress, Index: 2, Total: 5, Type: models.EventClick}, "Replaying event 2/5: click\n"},
		{"completed", replayer.Notification{Kind: replayer.KindCompleted, Total: 5}, "Replay finished\n"},
		{"canceled", replayer.Notification{Kind: replayer.KindCanceled, Index: 3, Total: 5}, "Replay canceled after 3/5 events\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printNotification(&out, tt.n)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
