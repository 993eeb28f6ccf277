package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler duplicates each record to every child handler that
// accepts its level. Used to pair the stdout handler with the journald
// handler when both are active.
type fanoutHandler struct {
	children []slog.Handler
}

// NewFanoutHandler builds a handler writing to all of the given
// handlers. A single child is returned as-is.
func NewFanoutHandler(children ...slog.Handler) slog.Handler {
	if len(children) == 1 {
		return children[0]
	}
	return &fanoutHandler{children: children}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.children {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.children {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	children := make([]slog.Handler, len(f.children))
	for i, h := range f.children {
		children[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{children: children}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	children := make([]slog.Handler, len(f.children))
	for i, h := range f.children {
		children[i] = h.WithGroup(name)
	}
	return &fanoutHandler{children: children}
}
