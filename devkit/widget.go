package devkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-banklink/core"
)

// FakeWidget stands in for the hosted linking UI. Tests drive it with
// MarkReady and Succeed.
type FakeWidget struct {
	mu      sync.Mutex
	cfg     core.WidgetConfig
	ready   bool
	opened  int
	closed  bool
	openErr error
}

func (w *FakeWidget) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openErr != nil {
		return w.openErr
	}
	if w.closed {
		return fmt.Errorf("devkit: widget is closed")
	}
	w.opened++
	return nil
}

func (w *FakeWidget) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready && !w.closed
}

func (w *FakeWidget) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// MarkReady flips the widget to ready and fires the OnReady callback.
func (w *FakeWidget) MarkReady() {
	w.mu.Lock()
	w.ready = true
	onReady := w.cfg.OnReady
	w.mu.Unlock()
	if onReady != nil {
		onReady()
	}
}

// Succeed reports a successful link the way the hosted UI would.
func (w *FakeWidget) Succeed(publicToken string, metadata core.SuccessMetadata) bool {
	w.mu.Lock()
	handler := w.cfg.OnSuccess
	w.mu.Unlock()
	return handler.Handle(publicToken, metadata)
}

func (w *FakeWidget) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Token
}

func (w *FakeWidget) OpenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

func (w *FakeWidget) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type WidgetFactoryOption func(*FakeWidgetFactory)

// WithAutoReady marks every created widget ready right away.
func WithAutoReady() WidgetFactoryOption {
	return func(f *FakeWidgetFactory) {
		f.autoReady = true
	}
}

// WithOpenError makes every created widget fail Open with err.
func WithOpenError(err error) WidgetFactoryOption {
	return func(f *FakeWidgetFactory) {
		f.openErr = err
	}
}

// WithFactoryError makes NewWidget fail with err.
func WithFactoryError(err error) WidgetFactoryOption {
	return func(f *FakeWidgetFactory) {
		f.factoryErr = err
	}
}

type FakeWidgetFactory struct {
	mu         sync.Mutex
	widgets    []*FakeWidget
	created    chan *FakeWidget
	autoReady  bool
	openErr    error
	factoryErr error
}

func NewFakeWidgetFactory(opts ...WidgetFactoryOption) *FakeWidgetFactory {
	f := &FakeWidgetFactory{created: make(chan *FakeWidget, 16)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *FakeWidgetFactory) NewWidget(_ context.Context, cfg core.WidgetConfig) (core.Widget, error) {
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	widget := &FakeWidget{cfg: cfg, openErr: f.openErr}
	f.mu.Lock()
	f.widgets = append(f.widgets, widget)
	f.mu.Unlock()
	select {
	case f.created <- widget:
	default:
	}
	if f.autoReady {
		go widget.MarkReady()
	}
	return widget, nil
}

// Created delivers widgets as the orchestrator creates them.
func (f *FakeWidgetFactory) Created() <-chan *FakeWidget {
	return f.created
}

// Next waits for the next created widget.
func (f *FakeWidgetFactory) Next(ctx context.Context) (*FakeWidget, error) {
	select {
	case widget := <-f.created:
		return widget, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeWidgetFactory) Widgets() []*FakeWidget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeWidget(nil), f.widgets...)
}

var (
	_ core.Widget        = (*FakeWidget)(nil)
	_ core.WidgetFactory = (*FakeWidgetFactory)(nil)
)
