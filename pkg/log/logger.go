package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zerolog.Nop()
var once sync.Once

type Option func(*config)

type config struct {
	fileName string
	console  bool
	level    int
}

// WithFile adds a size-rotated log file next to whatever other outputs
// are configured.
func WithFile(fileName string) Option {
	return func(c *config) {
		c.fileName = fileName
	}
}

// WithConsole enables a human-readable console writer on stdout.
func WithConsole() Option {
	return func(c *config) {
		c.console = true
	}
}

func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// Init configures the process-wide logger. Subsequent calls are no-ops.
func Init(serviceName string, opts ...Option) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		c := &config{level: int(zerolog.InfoLevel)}
		for _, opt := range opts {
			opt(c)
		}

		outputs := make([]io.Writer, 0, 2)
		if c.console {
			outputs = append(outputs, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			})
		}
		if c.fileName != "" {
			outputs = append(outputs, &lumberjack.Logger{
				Filename:   c.fileName,
				MaxSize:    5,
				MaxBackups: 10,
				MaxAge:     14,
				Compress:   true,
			})
		}
		if len(outputs) == 0 {
			outputs = append(outputs, os.Stdout)
		}

		logger = zerolog.New(zerolog.MultiLevelWriter(outputs...)).
			Level(zerolog.Level(c.level)).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
	})
}

// Logger returns the configured logger. Before Init it is a no-op
// logger, which is safe to use from tests.
func Logger() zerolog.Logger {
	return logger
}
