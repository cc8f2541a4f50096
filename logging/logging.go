// Package logging wires up structured logging for the chaser process: a
// writer that can buffer log lines until a sink is attached (cmd/chaserd
// may bring up the Art-Net/MQTT outputs before the thing that should
// receive their logs is ready) and can additionally tee to a log file.
// It also hands out the per-component loggers every other package in
// this repo attaches to its own state, so the "component" field stays
// one convention instead of six ad hoc call sites. Grounded on the
// teacher's logging.bufferingTeeWriter, restructured around a nil-able
// buffer instead of a separate buffering flag.
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// sinkWriter holds writes in buf while buf is non-nil, and forwards them
// to sink once SetOutput clears it. A file, if open, always gets a copy
// regardless of buffering state.
type sinkWriter struct {
	mu   sync.Mutex
	buf  *bytes.Buffer
	sink io.Writer
	file *os.File
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.buf != nil {
		w.buf.Write(p)
	} else if w.sink != nil {
		_, err = w.sink.Write(p)
	}

	if w.file != nil {
		if _, fileErr := w.file.Write(p); fileErr != nil && err == nil {
			err = fileErr
		}
	}
	return len(p), err
}

var (
	defaultLogger *slog.Logger
	writer        *sinkWriter
)

func parseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init configures the default slog logger: bufferOutput starts the
// writer buffering (no sink attached yet); logFilePath, if non-empty,
// also tees every log line to that file regardless of buffering state.
func Init(bufferOutput bool, levelStr, formatStr string, logFilePath string) error {
	writer = &sinkWriter{}
	if bufferOutput {
		writer.buf = &bytes.Buffer{}
	}

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writer.file = f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}
	var handler slog.Handler
	if strings.ToLower(formatStr) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return nil
}

// SetOutput flushes any buffered lines to target and switches to live
// writing through it.
func SetOutput(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.buf != nil && writer.buf.Len() > 0 {
		if _, err := target.Write(writer.buf.Bytes()); err != nil {
			return err
		}
	}
	writer.buf = nil
	writer.sink = target
	return nil
}

// BufferOutput detaches the live sink and resumes buffering.
func BufferOutput() {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.sink = nil
	writer.buf = &bytes.Buffer{}
}

// Close flushes any remaining buffered lines (to the log file if one is
// open, else to stderr as a last resort) and closes the file.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var err error
	switch {
	case writer.file != nil:
		if writer.buf != nil && writer.buf.Len() > 0 {
			if _, werr := writer.file.Write(writer.buf.Bytes()); werr != nil {
				err = werr
			}
		}
		if cerr := writer.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	case writer.sink == nil && writer.buf != nil && writer.buf.Len() > 0:
		_, err = os.Stderr.Write(writer.buf.Bytes())
	}

	writer.buf = nil
	return err
}

// Component returns a logger scoped to the given component name, the
// convention every subsystem in this repo (sequencer, artnet, mqtt,
// fanout, render, store) uses to tag its own log lines.
func Component(name string, attrs ...any) *slog.Logger {
	args := append([]any{slog.String("component", name)}, attrs...)
	return slog.Default().With(args...)
}
