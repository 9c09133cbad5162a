package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"local", "dev", "docker", "prod"} {
		l, err := NewLogger(env)
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		if l == nil {
			t.Fatalf("%s: nil logger", env)
		}
	}
	if _, err := NewLogger("staging"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if _, err := NewLogger("prod", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestContext_RoundTrip(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core).With(zap.String("request_id", "r1")))

	FromContext(ctx).Info("hello")
	if logs.Len() != 1 || logs.All()[0].ContextMap()["request_id"] != "r1" {
		t.Errorf("expected the stored logger to be used, got %v", logs.All())
	}

	FromContext(context.Background()).Info("dropped")
	if logs.Len() != 1 {
		t.Error("a context without a logger must fall back to a no-op logger")
	}
}

func TestWith_ScopesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core))

	ctx, l := With(ctx, zap.Int64("watermark", 7))
	l.Info("direct")
	FromContext(ctx).Info("via context")

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	for _, e := range logs.All() {
		if e.ContextMap()["watermark"] != int64(7) {
			t.Errorf("entry %q missing watermark: %v", e.Message, e.ContextMap())
		}
	}
}
