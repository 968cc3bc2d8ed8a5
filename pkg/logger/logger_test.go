package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel_RecognizesEveryLevelAndFallsBackToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestGet_LazilyInitializesWhenUninitialized(t *testing.T) {
	defaultLogger = nil
	t.Cleanup(func() { defaultLogger = nil })

	log := Get()

	assert.NotNil(t, log)
	assert.NotNil(t, defaultLogger)
}

func TestInit_JSONFormatProducesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	f, err := os.CreateTemp(t.TempDir(), "log")
	assert.NoError(t, err)
	defer f.Close()

	Init(slog.LevelInfo, f, "json")
	log := Get()
	log.Info("hello", "key", "value")

	data, err := os.ReadFile(f.Name())
	assert.NoError(t, err)
	buf.Write(data)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"key":"value"`)
}
