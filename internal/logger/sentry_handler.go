package logger

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler はERRORレベル以上のログをSentryイベントとして送信するslog.Handler。
// コンテキストにHubがあればそれを、なければグローバルHubを使用する。
// Sentryクライアントが未初期化の場合は何もしない。
type SentryHandler struct {
	attrs  []slog.Attr
	prefix string
}

// NewSentryHandler はSentryHandlerを生成する。
func NewSentryHandler() *SentryHandler {
	return &SentryHandler{}
}

func hubFrom(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

// Enabled はERROR以上かつSentryクライアントが設定済みの場合にtrueを返す。
func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError && hubFrom(ctx).Client() != nil
}

// Handle はログレコードをSentryイベントに変換して送信する。
func (h *SentryHandler) Handle(ctx context.Context, record slog.Record) error {
	hub := hubFrom(ctx)
	if hub.Client() == nil {
		return nil
	}

	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	if record.Level > slog.LevelError {
		event.Level = sentry.LevelFatal
	}
	event.Message = record.Message
	event.Timestamp = record.Time
	event.Logger = "slog"
	if event.Extra == nil {
		event.Extra = make(map[string]any)
	}

	for _, a := range h.attrs {
		event.Extra[a.Key] = attrValue(a.Value)
	}
	record.Attrs(func(a slog.Attr) bool {
		event.Extra[h.prefix+a.Key] = attrValue(a.Value)
		return true
	})

	hub.CaptureEvent(event)
	return nil
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindGroup {
		m := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			m[a.Key] = attrValue(a.Value)
		}
		return m
	}
	return v.Any()
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &SentryHandler{prefix: h.prefix}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SentryHandler{attrs: h.attrs, prefix: h.prefix + name + "."}
}
