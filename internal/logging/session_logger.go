package logging

import (
	"context"
	"log/slog"
)

// fanOutHandler dispatches each record to two handlers.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// WithConnection tags every record from the returned logger with the peer's
// remote address, so interleaved connections stay distinguishable in a
// shared log stream.
func WithConnection(base *slog.Logger, remoteAddr string) *slog.Logger {
	return base.With("remote_addr", remoteAddr)
}

// WithRequest tags every record from the returned logger with a request id,
// correlating logs across the asynchronous task-pool event stream.
func WithRequest(base *slog.Logger, requestID uint64) *slog.Logger {
	return base.With("request_id", requestID)
}

// WithScreenSession tags every record from the returned logger with a
// screen-streaming session identifier (agent remote address + start time).
func WithScreenSession(base *slog.Logger, sessionID string) *slog.Logger {
	return base.With("screen_session", sessionID)
}

// Fork duplicates records from base into a second handler — used to mirror
// a connection's logs into a dedicated per-session handler without losing
// the process-wide stream.
func Fork(base *slog.Logger, secondary slog.Handler) *slog.Logger {
	return slog.New(&fanOutHandler{primary: base.Handler(), secondary: secondary})
}
