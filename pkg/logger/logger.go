package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pedichat-go/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the client logger from the logging section of the config.
// Output defaults to a rotated file because the terminal UI owns stdout.
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(newFormatter(cfg))
	log.SetOutput(out)
	return log, nil
}

func newFormatter(cfg *config.LoggingConfig) logrus.Formatter {
	if cfg.Format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   cfg.Output == "file",
	}
}

func openOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	case "file":
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("log file path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   true,
		}, nil
	default:
		return os.Stdout, nil
	}
}

// WithUser tags entries with the signed-in account
func WithUser(log *logrus.Logger, userID int64, email string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"user_id": userID,
		"email":   email,
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
