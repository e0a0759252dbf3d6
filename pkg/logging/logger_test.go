package logging

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestInitializeOffIsSilent(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	require.NoError(t, Initialize(""))
	assert.False(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))

	require.NoError(t, Initialize("OFF"))
	assert.False(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))
}

func TestInitializeFallsBackToEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	require.NoError(t, Initialize(""))
	t.Cleanup(func() { SetLogger(nil) })

	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
}

func TestLogRawBytesOnlyAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	LogRawBytes("chunk", []byte{0xAA, 0xAA})
	assert.Equal(t, 0, logs.Len())

	core, logs = observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	LogRawBytes("chunk", []byte{0xAA, 0xAA, 0x02})

	entries := logs.FilterMessage("chunk").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["length"])
	assert.Equal(t, "aaaa02", fields["hex"])
}

func TestHexDumpTruncates(t *testing.T) {
	out := hexDump(make([]byte, 300))
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, out, 512+3)
}

func TestGetLoggerConcurrentWithSetLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(func() { SetLogger(nil) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Info("tick")
				_ = GetLogger()
			}
		}()
	}
	SetLogger(zap.New(core))
	wg.Wait()

	Info("after")
	assert.NotNil(t, GetLogger())
	assert.GreaterOrEqual(t, logs.FilterMessage("after").Len(), 1)
}
