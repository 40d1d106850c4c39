// Package browser drives a Chrome tab over the DevTools protocol and reports
// its page-level signals to a Handler.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace-replay/internal/models"
)

const bindingName = "__browsetraceRecord"

// Handler receives page signals. *bridge.Bridge satisfies it.
type Handler interface {
	ConsoleMessage(level, text string, line int, source string)
	NavigationRequest(url, navigationType string, isMainFrame bool) bool
	URLChanged(url string)
	LoadFinished(ok bool, url string)
	Interaction(eventType models.EventType, data map[string]any) error
}

type Options struct {
	Headless bool
	ExecPath string
	Width    int
	Height   int
}

type Page struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu          sync.RWMutex
	handler     Handler
	mainFrameID cdp.FrameID
	url         string
}

// Launch starts a browser with one tab. The tab lives until Close or until
// ctx is canceled.
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	p := &Page{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
			return fmt.Errorf("failed to add binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(captureScript()).Do(ctx); err != nil {
			return fmt.Errorf("failed to install capture script: %w", err)
		}
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to get frame tree: %w", err)
		}
		p.mu.Lock()
		p.mainFrameID = tree.Frame.ID
		p.url = tree.Frame.URL
		p.mu.Unlock()
		return nil
	}))
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return p, nil
}

// SetHandler attaches the receiver of page signals. Signals arriving before
// a handler is set are dropped.
func (p *Page) SetHandler(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Page) Close() {
	p.cancel()
	p.allocCancel()
}

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// run executes actions on the tab, giving up when either the tab or ctx ends.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate starts loading url and returns once the browser has committed to
// it, without waiting for the load event. Completion is reported through
// LoadFinished.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, navigateAction(url)); err != nil {
		if h := p.currentHandler(); h != nil {
			h.LoadFinished(false, url)
		}
		return err
	}
	return nil
}

func navigateAction(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	})
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Reload()); err != nil {
		if h := p.currentHandler(); h != nil {
			h.LoadFinished(false, p.URL())
		}
		return err
	}
	return nil
}

// Evaluate runs a snippet in the page. Snippets report whether they found
// their target; a miss is not an error.
func (p *Page) Evaluate(ctx context.Context, script string) error {
	var found bool
	if err := p.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		p.logger.Debug("Script found no target element")
	}
	return nil
}

func (p *Page) currentHandler() Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

func (p *Page) isMainFrame(id cdp.FrameID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return id == p.mainFrameID
}

// onEvent runs on chromedp's event loop and must not issue actions.
func (p *Page) onEvent(ev interface{}) {
	h := p.currentHandler()
	if h == nil {
		return
	}

	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		line, source := consoleLocation(e.StackTrace)
		h.ConsoleMessage(string(e.Type), consoleText(e.Args), line, source)
	case *page.EventFrameRequestedNavigation:
		h.NavigationRequest(e.URL, string(e.Reason), p.isMainFrame(e.FrameID))
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		url := e.Frame.URL + e.Frame.URLFragment
		p.mu.Lock()
		p.mainFrameID = e.Frame.ID
		p.url = url
		p.mu.Unlock()
		h.URLChanged(url)
	case *page.EventNavigatedWithinDocument:
		if !p.isMainFrame(e.FrameID) {
			return
		}
		p.mu.Lock()
		p.url = e.URL
		p.mu.Unlock()
		h.URLChanged(e.URL)
	case *page.EventLoadEventFired:
		h.LoadFinished(true, p.URL())
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		eventType, data, err := parseInteraction(e.Payload)
		if err != nil {
			p.logger.Debug("Ignoring malformed interaction", zap.Error(err))
			return
		}
		if err := h.Interaction(eventType, data); err != nil {
			p.logger.Debug("Ignoring interaction", zap.Error(err))
		}
	}
}

func consoleLocation(trace *runtime.StackTrace) (int, string) {
	if trace == nil || len(trace.CallFrames) == 0 {
		return 0, ""
	}
	frame := trace.CallFrames[0]
	return int(frame.LineNumber) + 1, frame.URL // CDP lines are zero-based
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}

func parseInteraction(payload string) (models.EventType, map[string]any, error) {
	var message struct {
		Type models.EventType `json:"type"`
		Data map[string]any   `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return "", nil, fmt.Errorf("invalid interaction payload: %w", err)
	}
	if message.Type != models.EventClick && message.Type != models.EventInput {
		return "", nil, fmt.Errorf("unsupported interaction type: %q", message.Type)
	}
	if message.Data == nil {
		message.Data = map[string]any{}
	}
	return message.Type, message.Data, nil
}

// captureScript reports trusted clicks and inputs through the binding.
// Replayed actions are synthetic and therefore not captured again.
func captureScript() string {
	return fmt.Sprintf(`(function() {
  if (window.__browsetraceCapture) { return; }
  window.__browsetraceCapture = true;
  var send = function(type, data) {
    try { window.%[1]s(JSON.stringify({type: type, data: data})); } catch (e) {}
  };
  document.addEventListener('click', function(e) {
    if (!e.isTrusted) { return; }
    send('click', {x: e.clientX, y: e.clientY, tag: e.target && e.target.tagName});
  }, true);
  document.addEventListener('input', function(e) {
    var t = e.target;
    if (!e.isTrusted || !t || t.value === undefined) { return; }
    var r = t.getBoundingClientRect();
    send('input', {x: r.left + r.width / 2, y: r.top + r.height / 2, value: String(t.value), tag: t.tagName});
  }, true);
})();`, bindingName)
}
