// Package replayer re-enacts a recorded session against a live page by
// issuing navigations and injected script snippets, one event at a time.
package replayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/models"
)

// PageController is the part of the browser the replay drives.
type PageController interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string) error
}

type NotificationKind string

const (
	KindProgress  NotificationKind = "progress"
	KindCompleted NotificationKind = "completed"
	KindCanceled  NotificationKind = "canceled"
)

type Notification struct {
	Kind  NotificationKind `json:"kind"`
	Index int              `json:"index"` // 1-based, progress only
	Total int              `json:"total"`
	Type  models.EventType `json:"type,omitempty"`
}

type Result struct {
	Replayed int
	Total    int
	Canceled bool
}

type Replayer struct {
	page   PageController
	logger *zap.Logger
	speed  float64
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Replayer)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Replayer) { r.logger = logger }
}

// WithSpeed divides every event delay by speed. Values <= 0 are ignored.
func WithSpeed(speed float64) Option {
	return func(r *Replayer) {
		if speed > 0 {
			r.speed = speed
		}
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Replayer) { r.sleep = sleep }
}

func New(page PageController, opts ...Option) *Replayer {
	r := &Replayer{
		page:   page,
		logger: zap.NewNop(),
		speed:  1,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run is one replay in progress.
type Run struct {
	notifications chan Notification
	cancel        context.CancelFunc
	done          chan struct{}

	mu     sync.Mutex
	result Result
}

// Notifications delivers progress for every event followed by exactly one
// completed or canceled notification, then closes.
func (r *Run) Notifications() <-chan Notification { return r.notifications }

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Cancel() { r.cancel() }

// Wait blocks until the replay goroutine has exited.
func (r *Run) Wait() Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Start replays events on a background goroutine. The slice must not be
// modified until the run is done.
func (r *Replayer) Start(ctx context.Context, events []models.Event) *Run {
	ctx, cancel := context.WithCancel(ctx)
	run := &Run{
		notifications: make(chan Notification, len(events)+1),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		defer cancel()
		result := r.replay(ctx, events, run.notifications)
		run.mu.Lock()
		run.result = result
		run.mu.Unlock()
		close(run.notifications)
	}()
	return run
}

func (r *Replayer) replay(ctx context.Context, events []models.Event, out chan<- Notification) Result {
	total := len(events)
	result := Result{Total: total}

	canceled := false
	for i, event := range events {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		out <- Notification{Kind: KindProgress, Index: i + 1, Total: total, Type: event.Type}
		r.dispatch(ctx, event)
		result.Replayed++

		delay := time.Duration(float64(event.ReplayDelay()) / r.speed)
		if err := r.sleep(ctx, delay); err != nil {
			canceled = true
			break
		}
	}

	if canceled {
		result.Canceled = true
		out <- Notification{Kind: KindCanceled, Index: result.Replayed, Total: total}
		r.logger.Info("Replay canceled", zap.Int("replayed", result.Replayed), zap.Int("total", total))
		return result
	}
	out <- Notification{Kind: KindCompleted, Index: total, Total: total}
	r.logger.Info("Replay finished", zap.Int("events", total))
	return result
}

func (r *Replayer) dispatch(ctx context.Context, event models.Event) {
	logger := r.logger.With(zap.String("type", string(event.Type)), zap.Float64("timestamp", event.Timestamp))

	switch event.Type {
	case models.EventNavigation:
		url, ok := event.Data["url"].(string)
		if !ok || url == "" {
			logger.Debug("Skipping navigation without url")
			return
		}
		if err := r.page.Navigate(ctx, url); err != nil {
			logger.Debug("Navigation failed", zap.String("url", url), zap.Error(err))
		}
	case models.EventClick, models.EventInput:
		script, ok := ScriptFor(event)
		if !ok {
			logger.Debug("Skipping event without coordinates")
			return
		}
		if err := r.page.Evaluate(ctx, script); err != nil {
			logger.Debug("Script injection failed", zap.Error(err))
		}
	}
}
