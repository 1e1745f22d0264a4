//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/liberodark/check-updates/internal/checker"
	"github.com/liberodark/check-updates/internal/logging"
)

func TestRunCheckWithJSONLogs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "check-updates.log")
	var out bytes.Buffer
	stdout = &out
	connectService = func(ctx context.Context) (checker.PackageService, io.Closer, error) {
		return nil, nil, errors.New("system bus unavailable")
	}
	t.Cleanup(func() {
		stdout = os.Stdout
		connectService = connectPackageKit
		logging.Init("text", "warn", nil)
	})

	cmd := &cobra.Command{Use: "check-updates"}
	addCheckFlags(cmd.Flags())
	if err := cmd.Flags().Parse([]string{"--log-format", "json", "--log-file", logPath}); err != nil {
		t.Fatal(err)
	}

	if code := runCheck(cmd); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	want := "UPDATE Critical - An error occurred: connect to PackageKit: system bus unavailable\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		if rec["msg"] == "update check failed" {
			found = true
			if id, _ := rec[logging.KeyRunID].(string); id == "" {
				t.Fatalf("missing run id: %q", line)
			}
		}
	}
	if !found {
		t.Fatalf("failure not logged:\n%s", data)
	}
}

func TestWatchSignalsRotatesLogOnHangup(t *testing.T) {
	dir := t.TempDir()
	logFile, err := logging.OpenFile(logging.FileConfig{Path: filepath.Join(dir, "check-updates.log")})
	if err != nil {
		t.Fatal(err)
	}
	defer logFile.Close()
	if _, err := logFile.Write([]byte("before rotation\n")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := watchSignals(cancel, logFile)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no backup after SIGHUP, directory has %d entries", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ctx.Err() != nil {
		t.Fatal("SIGHUP must not cancel the run")
	}
}

func TestWatchSignalsCancelsRun(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		ctx, cancel := context.WithCancel(context.Background())
		stop := watchSignals(cancel, nil)

		if err := syscall.Kill(os.Getpid(), sig); err != nil {
			t.Fatal(err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("%v did not cancel the run", sig)
		}

		stop()
		cancel()
	}
}
