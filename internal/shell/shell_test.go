package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
	"github.com/vincentbai/browsetrace-replay/internal/replayer"
)

type fakePage struct {
	mu          sync.Mutex
	url         string
	navigations []string
	scripts     []string
	reloads     int
	err         error
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.err == nil {
		p.url = url
	}
	return p.err
}

func (p *fakePage) Evaluate(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return p.err
}

func (p *fakePage) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return p.err
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func messages(s *Shell) []string {
	var out []string
	for _, entry := range s.Log() {
		out = append(out, entry.Message)
	}
	return out
}

func zeroDelay(events ...models.Event) []models.Event {
	zero := 0.0
	for i := range events {
		events[i].Delay = &zero
	}
	return events
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"example.com":          "https://example.com",
		"  example.com/path  ": "https://example.com/path",
		"http://example.com":   "http://example.com",
		"https://example.com":  "https://example.com",
		"ftp://example.com":    "https://ftp://example.com",
	}
	for input, want := range tests {
		assert.Equal(t, want, NormalizeURL(input), input)
	}
}

func TestNavigateTo(t *testing.T) {
	page := &fakePage{}
	s := New(page, recorder.New())

	url, err := s.NavigateTo(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)
	assert.Equal(t, []string{"https://example.com"}, page.navigations)
	assert.Equal(t, "Loading...", s.Status())

	s.Bridge().LoadFinished(true, "https://example.com/")
	assert.Equal(t, "Page loaded successfully", s.Status())
}

func TestNavigateToFailure(t *testing.T) {
	page := &fakePage{err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	s := New(page, recorder.New())

	_, err := s.NavigateTo(context.Background(), "nowhere.invalid")
	require.Error(t, err)
	assert.Equal(t, "Failed to load page", s.Status())

	require.Error(t, s.Reload(context.Background()))
	assert.Equal(t, 1, page.reloads)
}

func TestRecordingLogsSignals(t *testing.T) {
	s := New(&fakePage{}, recorder.New())

	assert.True(t, s.ToggleRecording())
	s.Bridge().URLChanged("https://example.com/")
	s.Bridge().LoadFinished(true, "https://example.com/")
	s.Bridge().ConsoleMessage("log", "ready", 3, "app.js")
	assert.False(t, s.ToggleRecording())
	s.Bridge().URLChanged("https://example.com/after")

	assert.Equal(t, []string{
		"Recording started",
		"Navigation: https://example.com/",
		"Page loaded",
		"Recording stopped",
	}, messages(s))
	assert.Equal(t, 3, s.Recorder().Len())
	assert.Equal(t, "Recording stopped", s.Status())
}

func TestReplayRequiresLoad(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	s.StartRecording()
	s.Bridge().URLChanged("https://example.com/")

	_, err := s.StartReplay(context.Background())
	assert.ErrorIs(t, err, ErrRecordingActive)

	s.StopRecording()
	_, err = s.StartReplay(context.Background())
	assert.ErrorIs(t, err, ErrReplayDisabled)
	assert.False(t, s.ReplayEnabled())
}

func TestReplayEmptySession(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	s.UseSession(models.Session{StartTime: time.Now()})

	_, err := s.StartReplay(context.Background())
	assert.ErrorIs(t, err, recorder.ErrNoSession)
}

func TestSaveLoadReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	page := &fakePage{}

	rec := recorder.New()
	rec.Replace(models.Session{StartTime: time.Now(), Events: zeroDelay(
		models.Event{Timestamp: 0, Type: models.EventNavigation, Data: map[string]any{"url": "https://example.com"}},
		models.Event{Timestamp: 1, Type: models.EventClick, Data: map[string]any{"x": 1.0, "y": 2.0}},
		models.Event{Timestamp: 2, Type: models.EventInput, Data: map[string]any{"x": 1.0, "y": 2.0, "value": "v"}},
	)})
	require.NoError(t, New(page, rec).SaveSession(path))

	s := New(page, recorder.New())
	notifications, unsubscribe := s.Subscribe()
	defer unsubscribe()

	session, err := s.LoadSession(path)
	require.NoError(t, err)
	require.Len(t, session.Events, 3)
	assert.True(t, s.ReplayEnabled())

	replay, err := s.StartReplay(context.Background())
	require.NoError(t, err)
	result := replay.Wait()
	assert.Equal(t, 3, result.Replayed)
	assert.False(t, s.ReplayRunning())

	var kinds []replayer.NotificationKind
	var indexes []int
	for i := 0; i < 4; i++ {
		n := <-notifications
		kinds = append(kinds, n.Kind)
		indexes = append(indexes, n.Index)
	}
	assert.Equal(t, []replayer.NotificationKind{replayer.KindProgress, replayer.KindProgress, replayer.KindProgress, replayer.KindCompleted}, kinds)
	assert.Equal(t, []int{1, 2, 3, 3}, indexes)

	assert.Equal(t, []string{
		"Session loaded: 3 events",
		"Replay started",
		"Replaying event 1/3: navigation",
		"Replaying event 2/3: click",
		"Replaying event 3/3: input",
		"Replay finished",
	}, messages(s))
	assert.Equal(t, "Replay completed", s.Status())
	assert.Equal(t, []string{"https://example.com"}, page.navigations)
	assert.Len(t, page.scripts, 2)
}

func TestLoadFailureIsReported(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	_, err := s.LoadSession(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, recorder.ErrRead)
	assert.False(t, s.ReplayEnabled())
	require.Len(t, s.Log(), 1)
	assert.Contains(t, s.Log()[0].Message, "Failed to load session")
}

func TestSaveWithoutSessionIsReported(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	err := s.SaveSession(filepath.Join(t.TempDir(), "session.json"))
	assert.ErrorIs(t, err, recorder.ErrNoSession)
}

func TestSaveRefusedWhileRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(&fakePage{}, recorder.New())
	s.StartRecording()
	s.Bridge().URLChanged("https://example.com/")

	assert.ErrorIs(t, s.SaveSession(path), ErrSaveWhileRecording)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file may be written mid-recording")

	s.StopRecording()
	require.NoError(t, s.SaveSession(path))
}

func TestReplayInProgressAndCancel(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	long := 30.0
	s.UseSession(models.Session{StartTime: time.Now(), Events: []models.Event{
		{Type: models.EventPageLoaded, Data: map[string]any{}, Delay: &long},
	}})

	replay, err := s.StartReplay(context.Background())
	require.NoError(t, err)
	assert.True(t, s.ReplayRunning())

	_, err = s.StartReplay(context.Background())
	assert.ErrorIs(t, err, ErrReplayInProgress)

	assert.True(t, s.CancelReplay())
	select {
	case <-replay.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay was not canceled")
	}
	assert.True(t, replay.Wait().Canceled)
	assert.Equal(t, "Replay canceled", s.Status())
	assert.False(t, s.CancelReplay())
	assert.True(t, s.ReplayEnabled())
}

func TestLogEntryFormat(t *testing.T) {
	s := New(&fakePage{}, recorder.New(), withClock(func() time.Time {
		return time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)
	}))
	s.StartRecording()
	assert.Equal(t, "[09:05:07] Recording started", s.Log()[0].String())
}

func TestUnsubscribe(t *testing.T) {
	s := New(&fakePage{}, recorder.New())
	ch, unsubscribe := s.Subscribe()
	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}
