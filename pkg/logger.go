package pkg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a map of fields to add to log entries
type Fields map[string]any

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	LogOutputStdout = "stdout"
	LogOutputStderr = "stderr"
)

var (
	// sync.Once for setting zerolog global state (to prevent data races)
	timeFormatOnce sync.Once
)

// Logger wraps zerolog with additional functionality
type Logger struct {
	*zerolog.Logger
	config *Config
	fields Fields
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error)
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console)
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Output target (stdout, stderr, or empty to disable console output)
	Output string `json:"output" yaml:"output" mapstructure:"output"`

	// NoColor disables color in console format
	NoColor bool `json:"no_color" yaml:"no_color" mapstructure:"no_color"`

	// File output settings
	File FileConfig `json:"file" yaml:"file" mapstructure:"file"`

	// AsyncWrite uses a diode writer so hot loops never block on log I/O
	AsyncWrite bool `json:"async_write" yaml:"async_write" mapstructure:"async_write"`

	// BufferSize for async writer (in messages)
	BufferSize int `json:"buffer_size" yaml:"buffer_size" mapstructure:"buffer_size"`

	// Fields are default fields added to all logs
	Fields Fields `json:"fields" yaml:"fields" mapstructure:"fields"`
}

// FileConfig for rotated file output
type FileConfig struct {
	Enable     bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	Path       string `json:"path" yaml:"path" mapstructure:"path"`
	MaxSize    int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // megabytes
	MaxAge     int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: LogFormatConsole,
		Output: LogOutputStderr,
		File: FileConfig{
			Enable:     false,
			Path:       "vdht.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
		AsyncWrite: false,
		BufferSize: 10000,
		Fields:     make(Fields),
	}
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	writers := []io.Writer{}

	switch config.Output {
	case "":
	case LogOutputStdout, LogOutputStderr:
		var out io.Writer = os.Stderr
		if config.Output == LogOutputStdout {
			out = os.Stdout
		}
		if config.Format == LogFormatConsole {
			out = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: "15:04:05.000",
				NoColor:    config.NoColor,
			}
		}
		writers = append(writers, out)
	default:
		return nil, fmt.Errorf("unsupported log output %q", config.Output)
	}

	var closer io.Closer
	if config.File.Enable {
		if config.File.Path == "" {
			return nil, fmt.Errorf("log file path is required when file output is enabled")
		}
		if err := os.MkdirAll(filepath.Dir(config.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSize,
			MaxAge:     config.File.MaxAge,
			MaxBackups: config.File.MaxBackups,
			Compress:   config.File.Compress,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if config.AsyncWrite {
		dw := diode.NewWriter(writer, config.BufferSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
		})
		writer = dw
		closer = dw
	}

	timeFormatOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	for k, v := range config.Fields {
		ctx = ctx.Interface(k, v)
	}
	zl := ctx.Logger()

	fields := make(Fields, len(config.Fields))
	for k, v := range config.Fields {
		fields[k] = v
	}

	return &Logger{
		Logger: &zl,
		config: config,
		fields: fields,
		closer: closer,
	}, nil
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	zl := zerolog.Nop()
	return &Logger{
		Logger: &zl,
		config: &Config{Level: "disabled"},
		fields: make(Fields),
	}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}

	ctx := l.Logger.With()
	for k, v := range fields {
		merged[k] = v
		ctx = ctx.Interface(k, v)
	}

	zl := ctx.Logger()
	return &Logger{
		Logger: &zl,
		config: l.config,
		fields: merged,
		closer: l.closer,
	}
}

// WithComponent tags every entry with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithFields(Fields{"component": name})
}

// Fields returns a copy of the persistent fields of this logger.
func (l *Logger) Fields() Fields {
	out := make(Fields, len(l.fields))
	for k, v := range l.fields {
		out[k] = v
	}
	return out
}

// Close flushes any buffered writers and closes the log file.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
