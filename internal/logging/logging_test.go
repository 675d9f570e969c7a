package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))

	assert.True(t, ValidLevel("debug"))
	assert.False(t, ValidLevel("trace"))
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithOutput("info", &buf)
	base.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	l := NewLogger(base, "transport")
	l.Log(LevelDebug, "不应输出 %d", 1)
	assert.Empty(t, buf.String())

	l.Log(LevelInfo, "peer 已加入: %d", 2)
	out := buf.String()
	assert.Contains(t, out, "peer 已加入: 2")
	assert.Contains(t, out, "component=transport")

	assert.False(t, l.Enabled(LevelDebug))
	assert.True(t, l.Enabled(LevelError))
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithOutput("debug", &buf)
	base.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	NewLogger(base, "recv").With(logrus.Fields{"peer": 5}).Log(LevelDebug, "丢弃")

	assert.Contains(t, buf.String(), "peer=5")
	assert.Contains(t, buf.String(), "level=debug")
}

func TestNilBase(t *testing.T) {
	l := NewLogger(nil, "x")
	l.Log(LevelError, "静默")
	assert.NotNil(t, l.Entry())
}
