package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, format string) (*MLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	lg, props, err := InitLoggerWithWriteSyncer(&Config{Level: "info", Format: format, DisableTimestamp: true}, zapcore.AddSync(&buf))
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())
	return &MLogger{Logger: lg}, &buf
}

func TestInitLoggerFormats(t *testing.T) {
	for _, format := range []string{"text", "json", ""} {
		l, buf := newBufferLogger(t, format)
		l.Info("hello", FieldSessionID(3), FieldServer("https://matrix.org"))
		l.Debug("hidden")
		assert.Contains(t, buf.String(), "hello")
		assert.Contains(t, buf.String(), "https://matrix.org")
		assert.NotContains(t, buf.String(), "hidden")
	}
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, _, err := InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)

	_, props, err := InitLogger(&Config{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, props.Level.Level())
}

func TestCtxLogger(t *testing.T) {
	ctx := WithModule(context.Background(), "session")
	l := Ctx(ctx)
	require.NotNil(t, l)
	assert.NotSame(t, Ctx(context.Background()), l)
	assert.Same(t, l, Ctx(ctx))

	//nolint:staticcheck
	assert.NotNil(t, Ctx(nil))
}

func TestAttachLogger(t *testing.T) {
	l, buf := newBufferLogger(t, "json")
	ctx := AttachLogger(context.Background(), l)
	assert.Same(t, l, Ctx(ctx))
	assert.Equal(t, ctx, AttachLogger(ctx, nil))

	ctx = WithSession(ctx, 7, "https://example.org")
	Ctx(ctx).Info("synced")
	assert.Contains(t, buf.String(), `"sessionID":7`)
	assert.Contains(t, buf.String(), `"server":"https://example.org"`)
}

func TestIntentContext(t *testing.T) {
	ctx, span := NewIntentContext("session", "sync")
	defer span.End()
	assert.NotNil(t, Ctx(ctx))

	parent, cancel := context.WithCancel(context.Background())
	child, childSpan := StartIntent(parent, "session", "auth")
	defer childSpan.End()
	cancel()
	assert.ErrorIs(t, child.Err(), context.Canceled)
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())
	l := With(zap.String("k", "v"))
	b.SetLogger(l)
	assert.Same(t, l, b.Logger())
}

func TestRatedLogger(t *testing.T) {
	l := With().WithRateGroup("test", 1, 1)
	assert.True(t, l.RatedInfo(1, "first"))
	assert.False(t, l.RatedInfo(1, "second"))

	d := With().WithRateGroup("test-debug", 1, 2)
	assert.True(t, d.RatedDebug(1, "first"))
	assert.True(t, d.RatedDebug(1, "second"))
	assert.False(t, d.RatedDebug(1, "third"))
	assert.True(t, R().CheckCredit(100))
}
