package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type EventType string

const (
	EventNavigation        EventType = "navigation"
	EventNavigationRequest EventType = "navigation_request"
	EventClick             EventType = "click"
	EventInput             EventType = "input"
	EventConsoleMessage    EventType = "console_message"
	EventPageLoaded        EventType = "page_loaded"
)

// DefaultDelay is the pause after an event during replay when the event
// carries no delay of its own.
const DefaultDelay = 500 * time.Millisecond

// MaxDelaySeconds is the longest delay a time.Duration can hold.
const MaxDelaySeconds = float64(math.MaxInt64) / float64(time.Second)

var validEventTypes = map[EventType]bool{
	EventNavigation:        true,
	EventNavigationRequest: true,
	EventClick:             true,
	EventInput:             true,
	EventConsoleMessage:    true,
	EventPageLoaded:        true,
}

func ValidEventType(t EventType) bool {
	return validEventTypes[t]
}

// EventTypes lists every recordable type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventNavigation,
		EventNavigationRequest,
		EventClick,
		EventInput,
		EventConsoleMessage,
		EventPageLoaded,
	}
}

type Event struct {
	Timestamp float64        `json:"timestamp"` // seconds since Session.StartTime
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	Delay     *float64       `json:"delay,omitempty"` // seconds; nil means DefaultDelay
}

func (e Event) ReplayDelay() time.Duration {
	if e.Delay == nil {
		return DefaultDelay
	}
	if *e.Delay >= MaxDelaySeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(*e.Delay * float64(time.Second))
}

func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("type cannot be empty")
	}
	if !ValidEventType(e.Type) {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("timestamp must not be negative")
	}
	if e.Delay != nil && *e.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	if e.Delay != nil && *e.Delay > MaxDelaySeconds {
		return fmt.Errorf("delay must not exceed %.0f seconds", MaxDelaySeconds)
	}
	return nil
}

type Session struct {
	StartTime time.Time
	Events    []Event
}

// Duration is the offset of the last event.
func (s Session) Duration() time.Duration {
	if len(s.Events) == 0 {
		return 0
	}
	return time.Duration(s.Events[len(s.Events)-1].Timestamp * float64(time.Second))
}

type sessionJSON struct {
	StartTime string  `json:"start_time"`
	Events    []Event `json:"events"`
}

// zone-less forms written by older recorders, read as local time
var localTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (s Session) MarshalJSON() ([]byte, error) {
	events := s.Events
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(sessionJSON{
		StartTime: s.StartTime.Format(time.RFC3339Nano),
		Events:    events,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Events == nil {
		return fmt.Errorf("missing events")
	}
	start, err := ParseStartTime(raw.StartTime)
	if err != nil {
		return err
	}
	s.StartTime = start
	s.Events = raw.Events
	return nil
}

// ParseStartTime accepts RFC 3339 and zone-less ISO-8601 timestamps. An empty
// string yields the zero time.
func ParseStartTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start_time %q", value)
}

// IngestEvent is an event reported from outside the embedded browser, stamped
// by the recorder on arrival.
type IngestEvent struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

type Batch struct {
	Events []IngestEvent `json:"events"`
}
