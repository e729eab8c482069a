// Package diaglog is the append-only diagnostic log written during uploads.
// It is opened once per process and handed to the components that need it;
// write failures never reach the caller.
package diaglog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cutout-cli/cutout/pkg/errors"
)

// Log is a line-oriented, timestamped diagnostic sink.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *slog.Logger
}

// Open opens (or creates) the log file at path in append mode.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open diagnostic log")
	}

	l := &Log{file: f, path: path}
	l.logger = slog.New(slog.NewTextHandler(l, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return l, nil
}

// Discard returns a Log that drops every record.
func Discard() *Log {
	return &Log{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Write appends p to the file. Errors are swallowed so diagnostics can never
// block a pipeline run.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_, _ = l.file.Write(p)
	}
	return len(p), nil
}

// Logger returns the structured logger writing to this file.
func (l *Log) Logger() *slog.Logger {
	return l.logger
}

// Path is the file location, or "" for a discarding log.
func (l *Log) Path() string {
	return l.path
}

// Close closes the file. Later writes are dropped.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
