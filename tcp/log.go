package tcp

import (
	"context"
	"log/slog"
)

// levelTrace sits one notch below Debug, for per-segment admission tracing
// that is compiled in but filterable out in production builds.
const levelTrace = slog.LevelDebug - 2

// logger is a thin wrapper: every loggable type holds one, nil-safe, and
// callers use the short trace/debug/logerr helpers instead of reaching for
// *slog.Logger directly.
type logger struct {
	log *slog.Logger
}

func (l logger) enabled(ctx context.Context, level slog.Level) bool {
	return l.log != nil && l.log.Enabled(ctx, level)
}

func (l logger) trace(msg string, attrs ...slog.Attr) {
	if l.enabled(context.Background(), levelTrace) {
		l.log.LogAttrs(context.Background(), levelTrace, msg, attrs...)
	}
}

func (l logger) debug(msg string, attrs ...slog.Attr) {
	if l.enabled(context.Background(), slog.LevelDebug) {
		l.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (l logger) logerr(msg string, err error) {
	if l.log != nil {
		l.log.LogAttrs(context.Background(), slog.LevelError, msg, slog.String("err", err.Error()))
	}
}

// traceSeg logs a segment admission decision: accepted, or dropped with a
// reason.
func (l logger) traceSeg(cbIndex int, state State, seg Segment, dropReason error) {
	if !l.enabled(context.Background(), levelTrace) {
		return
	}
	attrs := []slog.Attr{
		slog.Int("cb", cbIndex),
		slog.String("state", state.String()),
		slog.Uint64("seq", uint64(seg.SEQ)),
		slog.Uint64("ack", uint64(seg.ACK)),
		slog.Uint64("wnd", uint64(seg.WND)),
		slog.String("flags", seg.Flags.String()),
	}
	if dropReason != nil {
		attrs = append(attrs, slog.String("drop", dropReason.Error()))
		l.log.LogAttrs(context.Background(), levelTrace, "segment dropped", attrs...)
		return
	}
	l.log.LogAttrs(context.Background(), levelTrace, "segment accepted", attrs...)
}
