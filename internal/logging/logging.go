// =============================================================================
// 文件: internal/logging/logging.go
// 描述: 统一日志 - 基于 logrus 的分级日志 (0=error, 1=info, 2=debug)
// =============================================================================
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// 日志级别
const (
	LevelError = 0
	LevelInfo  = 1
	LevelDebug = 2
)

// ParseLevel 解析日志级别字符串, 未知值按 info 处理
func ParseLevel(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// ValidLevel 是否为可识别的级别
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "info", "debug":
		return true
	}
	return false
}

// New 创建基础 logger
func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stderr)
}

// NewWithOutput 创建写入指定输出的基础 logger
func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(toLogrus(ParseLevel(level)))
	return l
}

// Discard 丢弃所有输出的 logger
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func toLogrus(level int) logrus.Level {
	switch level {
	case LevelError:
		return logrus.ErrorLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger 组件日志, 带 component 字段
type Logger struct {
	entry *logrus.Entry
}

// NewLogger 为组件创建日志
func NewLogger(base *logrus.Logger, component string) *Logger {
	if base == nil {
		base = Discard()
	}
	return &Logger{entry: base.WithFields(logrus.Fields{"component": component})}
}

// With 追加字段
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Enabled 该级别是否会输出
func (l *Logger) Enabled(level int) bool {
	return l.entry.Logger.IsLevelEnabled(toLogrus(level))
}

// Log 按级别输出
func (l *Logger) Log(level int, format string, args ...interface{}) {
	lv := toLogrus(level)
	if !l.entry.Logger.IsLevelEnabled(lv) {
		return
	}
	l.entry.Log(lv, fmt.Sprintf(format, args...))
}

// Entry 返回底层 logrus entry
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}
