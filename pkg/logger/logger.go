package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Fields 附加在一筆 log 上的欄位
type Fields map[string]any

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(newLogger(os.Stderr, "info"))
}

// Setup 依照設定替換全域 logger
//
// 參數:
//
//	w: 輸出目的地
//	level: "debug", "info", "warn", "error"
func Setup(w io.Writer, level string) {
	current.Store(newLogger(w, level))
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(message string, fields Fields) {
	write(slog.LevelDebug, message, nil, fields)
}

func Info(message string, fields Fields) {
	write(slog.LevelInfo, message, nil, fields)
}

func Warn(message string, err error, fields Fields) {
	write(slog.LevelWarn, message, err, fields)
}

func Error(message string, err error, fields Fields) {
	write(slog.LevelError, message, err, fields)
}

func write(level slog.Level, message string, err error, fields Fields) {
	l := current.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.LogAttrs(context.Background(), level, message, attrs...)
}
