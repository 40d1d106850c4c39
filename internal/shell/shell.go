// Package shell is the browser controller behind every front end: URL bar
// navigation, recording controls, session files and replay, with a
// human-readable session log and status line.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/bridge"
	"github.com/vincentbai/browsetrace-replay/internal/models"
	"github.com/vincentbai/browsetrace-replay/internal/recorder"
	"github.com/vincentbai/browsetrace-replay/internal/replayer"
)

var (
	ErrReplayDisabled     = errors.New("no session loaded for replay")
	ErrReplayInProgress   = errors.New("replay already in progress")
	ErrRecordingActive    = errors.New("cannot replay while recording")
	ErrSaveWhileRecording = errors.New("cannot save while recording")
)

const maxLogEntries = 1000

// Page is the embedded browser surface.
type Page interface {
	replayer.PageController
	Reload(ctx context.Context) error
	URL() string
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

type Shell struct {
	page     Page
	recorder *recorder.Recorder
	replayer *replayer.Replayer
	bridge   *bridge.Bridge
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	status        string
	entries       []LogEntry
	replayEnabled bool
	run           *replayer.Run
	subscribers   map[chan replayer.Notification]struct{}
}

type Option func(*Shell)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// WithReplayer replaces the default replayer driving the page.
func WithReplayer(r *replayer.Replayer) Option {
	return func(s *Shell) { s.replayer = r }
}

func withClock(now func() time.Time) Option {
	return func(s *Shell) { s.now = now }
}

func New(page Page, rec *recorder.Recorder, opts ...Option) *Shell {
	s := &Shell{
		page:        page,
		recorder:    rec,
		logger:      zap.NewNop(),
		now:         time.Now,
		status:      "Ready",
		subscribers: make(map[chan replayer.Notification]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.replayer == nil {
		s.replayer = replayer.New(page, replayer.WithLogger(s.logger))
	}
	s.bridge = bridge.New(rec, s)
	return s
}

// Bridge is the page event bridge the browser reports into.
func (s *Shell) Bridge() *bridge.Bridge { return s.bridge }

func (s *Shell) Recorder() *recorder.Recorder { return s.recorder }

// NormalizeURL adds https:// to input without an http(s) scheme.
func NormalizeURL(input string) string {
	url := strings.TrimSpace(input)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}

func (s *Shell) NavigateTo(ctx context.Context, input string) (string, error) {
	url := NormalizeURL(input)
	s.setStatus("Loading...")
	if err := s.page.Navigate(ctx, url); err != nil {
		s.setStatus("Failed to load page")
		s.logger.Warn("Navigation failed", zap.String("url", url), zap.Error(err))
		return url, fmt.Errorf("failed to load %s: %w", url, err)
	}
	return url, nil
}

func (s *Shell) Reload(ctx context.Context) error {
	s.setStatus("Reloading...")
	if err := s.page.Reload(ctx); err != nil {
		s.setStatus("Failed to load page")
		return fmt.Errorf("failed to reload %s: %w", s.page.URL(), err)
	}
	return nil
}

func (s *Shell) CurrentURL() string { return s.page.URL() }

// OnPageSignal mirrors page signals into the status line and session log.
func (s *Shell) OnPageSignal(eventType models.EventType, data map[string]any, recorded bool) {
	url, _ := data["url"].(string)
	switch eventType {
	case models.EventNavigation:
		if recorded {
			s.logMessage("Navigation: " + url)
		}
	case models.EventPageLoaded:
		if ok, present := data["ok"].(bool); present && !ok {
			s.setStatus("Failed to load page")
			return
		}
		s.setStatus("Page loaded successfully")
		if recorded {
			s.logMessage("Page loaded")
		}
	}
}

func (s *Shell) StartRecording() {
	s.recorder.Start()
	s.logMessage("Recording started")
	s.setStatus("Recording session...")
}

func (s *Shell) StopRecording() {
	s.recorder.Stop()
	s.logMessage("Recording stopped")
	s.setStatus("Recording stopped")
}

// ToggleRecording flips recording and reports whether it is now active.
func (s *Shell) ToggleRecording() bool {
	if s.recorder.IsRecording() {
		s.StopRecording()
		return false
	}
	s.StartRecording()
	return true
}

// SaveSession writes the recorded session. It is refused while recording so
// a file never holds a partial log.
func (s *Shell) SaveSession(path string) error {
	if s.recorder.IsRecording() {
		return ErrSaveWhileRecording
	}
	if err := s.recorder.Save(path); err != nil {
		s.logMessage(fmt.Sprintf("Failed to save session: %v", err))
		return err
	}
	s.logMessage("Session saved to " + path)
	return nil
}

func (s *Shell) LoadSession(path string) (models.Session, error) {
	session, err := s.recorder.Load(path)
	if err != nil {
		s.logMessage(fmt.Sprintf("Failed to load session: %v", err))
		return models.Session{}, err
	}
	s.sessionLoaded(len(session.Events))
	return session, nil
}

// UseSession installs a session from somewhere other than a file, such as
// the archive, and enables replay.
func (s *Shell) UseSession(session models.Session) {
	s.recorder.Replace(session)
	s.sessionLoaded(len(session.Events))
}

func (s *Shell) sessionLoaded(count int) {
	s.mu.Lock()
	s.replayEnabled = true
	s.mu.Unlock()
	s.logMessage(fmt.Sprintf("Session loaded: %d events", count))
}

func (s *Shell) ReplayEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayEnabled && s.run == nil
}

func (s *Shell) ReplayRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Replay is a replay started by the shell. Its notifications are delivered
// through Subscribe.
type Replay struct {
	run  *replayer.Run
	done chan struct{}
}

func (r *Replay) Cancel() { r.run.Cancel() }

// Done closes once every notification has been logged and published.
func (r *Replay) Done() <-chan struct{} { return r.done }

func (r *Replay) Wait() replayer.Result {
	<-r.done
	return r.run.Wait()
}

// StartReplay replays the loaded session in the background.
func (s *Shell) StartReplay(ctx context.Context) (*Replay, error) {
	if s.recorder.IsRecording() {
		return nil, ErrRecordingActive
	}
	events := s.recorder.Events()

	s.mu.Lock()
	switch {
	case s.run != nil:
		s.mu.Unlock()
		return nil, ErrReplayInProgress
	case !s.replayEnabled:
		s.mu.Unlock()
		return nil, ErrReplayDisabled
	case len(events) == 0:
		s.mu.Unlock()
		return nil, recorder.ErrNoSession
	}
	run := s.replayer.Start(ctx, events)
	s.run = run
	s.mu.Unlock()

	s.logMessage("Replay started")
	s.setStatus("Replaying session...")

	replay := &Replay{run: run, done: make(chan struct{})}
	go s.relay(replay)
	return replay, nil
}

// CancelReplay stops the running replay, if any.
func (s *Shell) CancelReplay() bool {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

func (s *Shell) relay(replay *Replay) {
	defer close(replay.done)
	run := replay.run
	for n := range run.Notifications() {
		switch n.Kind {
		case replayer.KindProgress:
			s.logMessage(fmt.Sprintf("Replaying event %d/%d: %s", n.Index, n.Total, n.Type))
		case replayer.KindCompleted:
			s.logMessage("Replay finished")
			s.setStatus("Replay completed")
		case replayer.KindCanceled:
			s.logMessage(fmt.Sprintf("Replay canceled after %d/%d events", n.Index, n.Total))
			s.setStatus("Replay canceled")
		}
		s.publish(n)
	}

	s.mu.Lock()
	if s.run == run {
		s.run = nil
	}
	s.mu.Unlock()
}

// Subscribe returns a channel of replay notifications for every replay
// started from now on. Slow subscribers miss notifications rather than
// stall the replay.
func (s *Shell) Subscribe() (<-chan replayer.Notification, func()) {
	ch := make(chan replayer.Notification, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

func (s *Shell) publish(n replayer.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			s.logger.Debug("Dropping replay notification for slow subscriber")
		}
	}
}

func (s *Shell) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Shell) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Log returns the session log, oldest first.
func (s *Shell) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.entries...)
}

func (s *Shell) logMessage(message string) {
	s.logger.Info(message)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, LogEntry{Time: s.now(), Message: message})
	if len(s.entries) > maxLogEntries {
		s.entries = s.entries[len(s.entries)-maxLogEntries:]
	}
}
