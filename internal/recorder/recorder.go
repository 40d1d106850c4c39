// Package recorder keeps the in-memory event log of a browsing session and
// persists it as a JSON session file.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace-replay/internal/models"
)

var (
	// ErrRead wraps every failure to load a session file.
	ErrRead = errors.New("failed to read session")
	// ErrNoSession is returned when there is nothing to save.
	ErrNoSession = errors.New("no session recorded")
)

type Recorder struct {
	mu        sync.RWMutex
	recording bool
	startTime time.Time
	events    []models.Event
	now       func() time.Time
}

type Option func(*Recorder)

// WithClock replaces the wall clock used for start times and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func New(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.recording = true
	r.startTime = r.now()
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	r.recording = false
	r.mu.Unlock()
}

func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Record appends an event stamped relative to the recording start. It reports
// false and does nothing when recording is not active or data cannot be
// encoded as JSON.
func (r *Recorder) Record(eventType models.EventType, data map[string]any) bool {
	stored, err := jsonCopy(data)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return false
	}

	timestamp := r.now().Sub(r.startTime).Seconds()
	if timestamp < 0 {
		timestamp = 0
	}
	if n := len(r.events); n > 0 && timestamp < r.events[n-1].Timestamp {
		timestamp = r.events[n-1].Timestamp
	}
	r.events = append(r.events, models.Event{
		Timestamp: timestamp,
		Type:      eventType,
		Data:      stored,
	})
	return true
}

// jsonCopy returns data as it reads back from a session file, detached from
// the caller's map.
func jsonCopy(data map[string]any) (map[string]any, error) {
	stored := map[string]any{}
	if len(data) == 0 {
		return stored, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(encoded, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Events returns a copy of the log, data included.
func (r *Recorder) Events() []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneEvents(r.events)
}

func (r *Recorder) Session() models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.Session{
		StartTime: r.startTime,
		Events:    cloneEvents(r.events),
	}
}

func cloneEvents(events []models.Event) []models.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]models.Event, len(events))
	for i, event := range events {
		out[i] = event
		out[i].Data = cloneValue(event.Data).(map[string]any)
		if event.Delay != nil {
			delay := *event.Delay
			out[i].Delay = &delay
		}
	}
	return out
}

// cloneValue deep-copies the containers JSON decoding produces.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		if v == nil {
			return []any(nil)
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Replace swaps in a whole session. Recording state is left alone.
func (r *Recorder) Replace(session models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = session.StartTime
	r.events = cloneEvents(session.Events)
}

// Save writes the session as indented JSON. The file is replaced atomically.
func (r *Recorder) Save(path string) error {
	session := r.Session()
	if session.StartTime.IsZero() {
		return ErrNoSession
	}

	jsonData, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(jsonData); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load replaces the log with the session stored at path. On error the
// current log is kept.
func (r *Recorder) Load(path string) (models.Session, error) {
	session, err := ReadFile(path)
	if err != nil {
		return models.Session{}, err
	}
	r.Replace(session)
	return session, nil
}

// ReadFile decodes and validates a session file without touching any
// recorder.
func ReadFile(path string) (models.Session, error) {
	jsonData, err := os.ReadFile(path)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", ErrRead, err)
	}

	var session models.Session
	if err := json.Unmarshal(jsonData, &session); err != nil {
		return models.Session{}, fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	for i, event := range session.Events {
		if err := event.Validate(); err != nil {
			return models.Session{}, fmt.Errorf("%w: event %d: %w", ErrRead, i, err)
		}
		if event.Data == nil {
			session.Events[i].Data = map[string]any{}
		}
	}
	return session, nil
}
