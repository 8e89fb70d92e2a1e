package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevelIsCaseInsensitiveAndDefaultsToInfo(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLogLevel("Error"))
	assert.Equal(t, INFO, ParseLogLevel("bogus"))
}

func TestSetLevelAndGetLevelRoundTrip(t *testing.T) {
	l := New("info")
	assert.Equal(t, "INFO", l.GetLevel())

	l.SetLevel("debug")
	assert.Equal(t, "DEBUG", l.GetLevel())
}

func TestShouldLogGatesByLevel(t *testing.T) {
	l := New("warn")
	assert.False(t, l.shouldLog(DEBUG))
	assert.False(t, l.shouldLog(INFO))
	assert.True(t, l.shouldLog(WARN))
	assert.True(t, l.shouldLog(ERROR))
}

func TestInfoWritesPrefixedLineAtSufficientLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	l := NewWithPrefix("info", "hub")
	l.Info("attached %s", "client-1")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "hub")
	assert.Contains(t, out, "attached client-1")
}

func TestDebugSuppressedBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	l := New("info")
	l.Debug("should not appear")

	assert.False(t, strings.Contains(buf.String(), "should not appear"))
}
