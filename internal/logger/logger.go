package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel は文字列からログレベルを返す
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// IDField は構造化出力でコンポーネント ID を格納するフィールド名
const IDField = "worker"

// Logger はスレッドセーフなロガー
type Logger struct {
	mu      sync.RWMutex
	zl      zerolog.Logger
	console bool
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は人間向けのコンソール形式で出力するロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	w := zerolog.ConsoleWriter{
		Out:           zerolog.SyncWriter(out),
		NoColor:       true,
		TimeFormat:    "2006-01-02 15:04:05.000",
		FieldsExclude: []string{IDField},
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
	}
	return &Logger{
		zl:      zerolog.New(w).Level(minLevel.zerolog()).With().Timestamp().Logger(),
		console: true,
	}
}

// NewJSON は 1 行 1 JSON で出力するロガーを作成する
func NewJSON(out io.Writer, minLevel Level) *Logger {
	return &Logger{
		zl: zerolog.New(zerolog.SyncWriter(out)).Level(minLevel.zerolog()).With().Timestamp().Logger(),
	}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Level(level.zerolog())
}

// Zerolog は内部の zerolog.Logger を返す
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, id string, format string, args ...any) {
	l.mu.RLock()
	zl := l.zl
	console := l.console
	l.mu.RUnlock()

	ev := zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if id != "" {
		ev = ev.Str(IDField, id)
		if console {
			msg = "[" + id + "] " + msg
		}
	}
	ev.Msg(msg)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(id string, format string, args ...any) {
	l.log(LevelDebug, id, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(id string, format string, args ...any) {
	l.log(LevelInfo, id, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(id string, format string, args ...any) {
	l.log(LevelWarn, id, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(id string, format string, args ...any) {
	l.log(LevelError, id, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(id string, format string, args ...any) {
	Default.Debug(id, format, args...)
}

// Info は情報ログを出力する
func Info(id string, format string, args ...any) {
	Default.Info(id, format, args...)
}

// Warn は警告ログを出力する
func Warn(id string, format string, args ...any) {
	Default.Warn(id, format, args...)
}

// Error はエラーログを出力する
func Error(id string, format string, args ...any) {
	Default.Error(id, format, args...)
}
