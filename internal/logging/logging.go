// Package logging builds the process logger: stdout plus a per-start log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// FilePrefix starts every log file name.
const FilePrefix = "rebalancer_"

// Options configures New.
type Options struct {
	Level  string
	Dir    string // empty disables the file sink
	Stdout io.Writer
	Now    func() time.Time
}

// New returns a logger writing to stdout and, when Dir is set, to
// Dir/rebalancer_YYYYMMDD_HHMMSS.log. The returned closer releases the file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if opts.Dir == "" {
		logger.SetOutput(opts.Stdout)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	name := filepath.Join(opts.Dir, FileName(opts.Now()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path built from config
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(opts.Stdout, f))
	return logger, f, nil
}

// FileName returns the log file name for a process started at t.
func FileName(t time.Time) string {
	return FilePrefix + t.Format("20060102_150405") + ".log"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
