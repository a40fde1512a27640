package engine

import (
	"log/slog"
	"time"
)

const (
	DefaultMarker      = "data-shorts-hidden"
	DefaultDisplayAttr = "data-shorts-display"
	DefaultRootClass   = "hide-shorts"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMarker sets the attribute placed on hidden elements.
func WithMarker(attr string) Option {
	return func(e *Engine) {
		if attr != "" {
			e.marker = attr
		}
	}
}

// WithRootClass sets the body class toggled while hiding is on.
func WithRootClass(class string) Option {
	return func(e *Engine) {
		if class != "" {
			e.rootClass = class
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
