// Package logging builds the component loggers. Every component gets a
// *log.Logger with a [component] prefix; when a log file is configured
// output goes to both stderr and a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures file output. A zero Options logs to stderr only.
type Options struct {
	// File is the rotated log file path; empty disables file output.
	File string
	// MaxSizeMB rotates the file when it grows past this many megabytes.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// MaxAgeDays is how long to keep rotated files.
	MaxAgeDays int
}

// Factory hands out per-component loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer
}

// NewFactory creates a logger factory.
func NewFactory(opts Options) *Factory {
	if opts.File == "" {
		return &Factory{out: os.Stderr}
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return &Factory{
		out:    io.MultiWriter(os.Stderr, rotator),
		closer: rotator,
	}
}

// For returns a logger tagged with the component name.
func (f *Factory) For(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
