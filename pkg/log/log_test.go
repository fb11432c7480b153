package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitTestLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "debug", Format: FormatJSON})
	require.NoError(t, err)
	require.NotNil(t, props)

	lg.Info("accepted", FieldConnID(7), FieldSessionID(0xABCD), FieldChannel(1))
	assert.True(t, props.Level.Enabled(zapcore.DebugLevel))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, _, err := InitLogger(&Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Ctx(context.TODO()))

	ctx := WithFields(context.Background(), zap.String("k", "v"))
	assert.NotSame(t, Ctx(context.Background()), Ctx(ctx))
}

func TestBinderDefaultsToGlobal(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	custom := With(FieldComponent("acceptor"))
	b.SetLogger(custom)
	assert.Same(t, custom, b.Logger())
}

func TestRatedWarnRespectsLimiter(t *testing.T) {
	l := With(FieldComponent("test")).WithRateGroup("test.rated", 1, 1)
	assert.True(t, l.RatedWarn(1, "first"))
	assert.False(t, l.RatedWarn(1, "second"))
}
