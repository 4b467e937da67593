package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

func TestContentHash(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		if ContentHash([]byte("abc")) != ContentHash([]byte("abc")) {
			t.Error("expected equal hashes for equal content")
		}
		if ContentHash([]byte("abc")) == ContentHash([]byte("abd")) {
			t.Error("expected different hashes for different content")
		}
	})

	t.Run("ReaderHash matches ContentHash", func(t *testing.T) {
		data := bytes.Repeat([]byte("sheet"), 1024)
		got, err := ReaderHash(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != ContentHash(data) {
			t.Errorf("expected %s, got %s", ContentHash(data), got)
		}
	})
}

func TestRetryOnBusy(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := RetryOnBusy(context.Background(), func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("insert: %w", busy)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnBusy(context.Background(), func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Errorf("expected one call returning boom, got %d calls and %v", calls, err)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryOnBusy(context.Background(), func() error {
			calls++
			return errors.New("database is locked")
		})
		if err == nil || calls != busyRetryAttempts {
			t.Errorf("expected %d attempts and an error, got %d and %v", busyRetryAttempts, calls, err)
		}
	})
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SHEETSYNC_TEST_VALUE=from-file\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("SHEETSYNC_TEST_VALUE", "")
	os.Unsetenv("SHEETSYNC_TEST_VALUE")

	loaded, err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Errorf("expected only %s to load, got %v", path, loaded)
	}
	if got := os.Getenv("SHEETSYNC_TEST_VALUE"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sheetsync.log")
	l, f, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info("hello", "component", "test")
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("expected log line in file, got %q", data)
	}
}
