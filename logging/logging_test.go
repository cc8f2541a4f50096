package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

type failingWriter struct{}

func (fw *failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestBufferedUntilSinkAttached(t *testing.T) {
	if err := Init(true, "DEBUG", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("before sink")

	var sink bytes.Buffer
	if err := SetOutput(&sink); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	if !strings.Contains(sink.String(), "before sink") {
		t.Errorf("expected buffered line to flush to sink, got: %s", sink.String())
	}

	slog.Info("after sink")
	if !strings.Contains(sink.String(), "after sink") {
		t.Errorf("expected live line written to sink, got: %s", sink.String())
	}

	BufferOutput()
	slog.Info("buffered again")
	if strings.Contains(sink.String(), "buffered again") {
		t.Errorf("expected line to be buffered, not written to sink: %s", sink.String())
	}

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFileTeeJSON(t *testing.T) {
	tempFile, err := os.CreateTemp("", "chaser-log-*.log")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tempFile.Name())

	if err := Init(false, "INFO", "json", tempFile.Name()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("artnet refresh started", "universe", 0)
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(tempFile.Name())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"msg":"artnet refresh started"`) || !strings.Contains(string(content), `"universe":0`) {
		t.Errorf("expected JSON log line, got: %s", string(content))
	}
}

func TestStderrFallbackOnClose(t *testing.T) {
	if err := Init(true, "DEBUG", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("shutdown line")

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	var wg sync.WaitGroup
	wg.Add(1)
	var captured string
	go func() {
		defer wg.Done()
		buf := make([]byte, 1024)
		n, _ := r.Read(buf)
		captured = string(buf[:n])
	}()

	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	w.Close()
	wg.Wait()
	os.Stderr = oldStderr

	if !strings.Contains(captured, "shutdown line") {
		t.Errorf("expected buffered line flushed to stderr, got: %s", captured)
	}
}

func TestWriteErrorPropagatesFromSink(t *testing.T) {
	if err := Init(false, "INFO", "text", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	writer.sink = &failingWriter{}
	slog.Info("this should fail to write")
	if _, err := writer.Write([]byte("direct write\n")); err == nil {
		t.Errorf("expected the sink's write error to be returned")
	}
}

func TestComponentTagsEveryRecord(t *testing.T) {
	var sink bytes.Buffer
	if err := Init(false, "INFO", "json", ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := SetOutput(&sink); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}

	Component("artnet", slog.Int("targets", 3)).Info("refresh loop started")
	out := sink.String()
	if !strings.Contains(out, `"component":"artnet"`) || !strings.Contains(out, `"targets":3`) {
		t.Errorf("expected component and extra attrs in the record, got: %s", out)
	}
}
