package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig enables a JSON log file next to the console output.
type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./teleube.log"

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Field adds one key to a log event. A later field with the same key wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

var setup sync.Once

func configure() {
	setup.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.DurationFieldUnit = time.Millisecond
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	})
}

// root is the zerolog logger every derived Logger writes through.
// Service.Apply replaces it in place.
type root struct {
	zl atomic.Pointer[zerolog.Logger]
}

func newRoot(w io.Writer, lvl zerolog.Level) *root {
	configure()
	r := &root{}
	r.set(w, lvl)
	return r
}

func (r *root) set(w io.Writer, lvl zerolog.Level) {
	// Skip Logger.emit and the Debug/Info/... wrapper.
	zl := zerolog.New(w).Level(lvl).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	r.zl.Store(&zl)
}

// Logger is a structured logger whose output follows its Service.
// The zero value discards everything.
type Logger struct {
	r      *root
	fields []Field
}

var nop = func() *root {
	r := &root{}
	zl := zerolog.Nop()
	r.zl.Store(&zl)
	return r
}()

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{r: nop} }

// NewWriter returns a standalone JSON logger on w.
func NewWriter(w io.Writer, level string) Logger {
	return Logger{r: newRoot(w, parseLevel(level, zerolog.DebugLevel))}
}

func (l Logger) IsZero() bool { return l.r == nil && len(l.fields) == 0 }

func (l Logger) zl() *zerolog.Logger {
	if l.r == nil {
		return nop.zl.Load()
	}
	return l.r.zl.Load()
}

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool { return level >= l.zl().GetLevel() }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return Logger{r: l.r, fields: append(append([]Field(nil), l.fields...), fields...)}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	e := l.zl().WithLevel(level)
	if e == nil {
		return
	}
	for _, set := range [2][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

// Service owns the process log sinks and reconfigures them on reload.
type Service struct {
	mu   sync.Mutex
	r    *root
	lvl  zerolog.Level
	file *os.File
}

// New builds the sinks for cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{r: newRoot(console(os.Stdout), parseLevel(cfg.Level, zerolog.InfoLevel))}
	s.Apply(cfg)
	return s, Logger{r: s.r}
}

// Apply swaps sinks and level. Loggers derived earlier follow the change.
// A file that cannot be opened is reported on stderr and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, console(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if old != nil && old.Name() == path {
			s.file, old = old, nil
		} else if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
		}
		if s.file != nil {
			sinks = append(sinks, zerolog.SyncWriter(s.file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, console(os.Stdout))
	}

	s.lvl = parseLevel(cfg.Level, zerolog.InfoLevel)
	s.r.set(zerolog.MultiLevelWriter(sinks...), s.lvl)
	if old != nil {
		_ = old.Close()
	}
}

// Close releases the log file and routes later events to the console.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	if f != nil {
		s.r.set(console(os.Stdout), s.lvl)
	}
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
}

// parseLevel accepts zerolog level names plus "warning".
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return def
	}
	return lvl
}
