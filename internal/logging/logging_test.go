package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("packagekit")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("transaction created", "path", "/12_abcd")

	out := buf.String()
	if !strings.Contains(out, `msg="transaction created"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=packagekit") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "path=/12_abcd") {
		t.Fatalf("expected path field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("checker")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatAndRunID(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	WithRun(L("checker"), "run-1").Debug("phase done")

	out := buf.String()
	if !strings.Contains(out, `"runId":"run-1"`) {
		t.Fatalf("expected runId field, got: %s", out)
	}
	if !strings.Contains(out, `"component":"checker"`) {
		t.Fatalf("expected component field, got: %s", out)
	}
}

func TestInitSwitchesBetweenFormats(t *testing.T) {
	logger := L("switch")

	var text, js, back bytes.Buffer
	Init("text", "info", &text)
	logger.Info("first")
	Init("json", "info", &js)
	logger.Info("second")
	Init("text", "info", &back)
	logger.Info("third")

	if !strings.Contains(text.String(), "msg=first") {
		t.Fatalf("text output: %s", text.String())
	}
	if !strings.Contains(js.String(), `"msg":"second"`) || !strings.Contains(js.String(), `"component":"switch"`) {
		t.Fatalf("json output: %s", js.String())
	}
	if !strings.Contains(back.String(), "msg=third") {
		t.Fatalf("text output after json: %s", back.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := L("ctx")
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger fallback")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"warning": "WARN",
		" ERROR ": "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFileWriterCreatesDirectoryAndRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "check-updates.log")

	w, err := OpenFile(FileConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write after rotate: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "second\n" {
		t.Fatalf("current log = %q, want only the post-rotation line", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected current file plus one backup, got %d entries", len(entries))
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	if _, err := OpenFile(FileConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenFileKeepsZeroBackups(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenFile(FileConfig{Path: filepath.Join(dir, "a.log"), MaxBackups: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.lj.MaxBackups != 0 {
		t.Fatalf("MaxBackups = %d, want 0 (keep all)", w.lj.MaxBackups)
	}

	w2, err := OpenFile(FileConfig{Path: filepath.Join(dir, "b.log"), MaxBackups: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	if w2.lj.MaxBackups != 5 {
		t.Fatalf("MaxBackups = %d, want 5", w2.lj.MaxBackups)
	}
}
