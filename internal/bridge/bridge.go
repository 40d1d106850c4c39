// Package bridge forwards page-level signals from the browser into the
// recorder. It only observes: navigation is never blocked.
package bridge

import (
	"fmt"

	"github.com/vincentbai/browsetrace-replay/internal/models"
)

// Sink receives forwarded events. *recorder.Recorder satisfies it.
type Sink interface {
	IsRecording() bool
	Record(eventType models.EventType, data map[string]any) bool
}

// Listener is told about every page signal whether or not it was recorded.
type Listener interface {
	OnPageSignal(eventType models.EventType, data map[string]any, recorded bool)
}

type ListenerFunc func(eventType models.EventType, data map[string]any, recorded bool)

func (f ListenerFunc) OnPageSignal(eventType models.EventType, data map[string]any, recorded bool) {
	f(eventType, data, recorded)
}

type Bridge struct {
	sink     Sink
	listener Listener
}

func New(sink Sink, listener Listener) *Bridge {
	return &Bridge{sink: sink, listener: listener}
}

func (b *Bridge) ConsoleMessage(level, text string, line int, source string) {
	b.forward(models.EventConsoleMessage, map[string]any{
		"level":   level,
		"message": text,
		"line":    line,
		"source":  source,
	})
}

// NavigationRequest records main-frame requests. It always allows the
// navigation.
func (b *Bridge) NavigationRequest(url, navigationType string, isMainFrame bool) bool {
	if isMainFrame {
		b.forward(models.EventNavigationRequest, map[string]any{
			"url":  url,
			"type": navigationType,
		})
	}
	return true
}

func (b *Bridge) URLChanged(url string) {
	b.forward(models.EventNavigation, map[string]any{"url": url})
}

// LoadFinished records page_loaded for successful loads only. Failures still
// reach the listener.
func (b *Bridge) LoadFinished(ok bool, url string) {
	data := map[string]any{"url": url}
	if !ok {
		if b.listener != nil {
			b.listener.OnPageSignal(models.EventPageLoaded, map[string]any{"url": url, "ok": false}, false)
		}
		return
	}
	b.forward(models.EventPageLoaded, data)
}

// Interaction records a click or input captured inside the page.
func (b *Bridge) Interaction(eventType models.EventType, data map[string]any) error {
	if eventType != models.EventClick && eventType != models.EventInput {
		return fmt.Errorf("unsupported interaction type: %s", eventType)
	}
	b.forward(eventType, data)
	return nil
}

func (b *Bridge) forward(eventType models.EventType, data map[string]any) {
	recorded := false
	if b.sink.IsRecording() {
		recorded = b.sink.Record(eventType, data)
	}
	if b.listener != nil {
		b.listener.OnPageSignal(eventType, data, recorded)
	}
}
