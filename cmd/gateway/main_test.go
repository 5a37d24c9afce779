package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_MissingConfigIsStartupFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if got := run([]string{"-config", missing}); got != exitStartupFailure {
		t.Fatalf("run() = %d, want %d", got, exitStartupFailure)
	}
}

func TestRun_MalformedConfigIsStartupFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := run([]string{"-config", path}); got != exitStartupFailure {
		t.Fatalf("run() = %d, want %d", got, exitStartupFailure)
	}
}

func TestRun_BadFlagIsStartupFailure(t *testing.T) {
	if got := run([]string{"-no-such-flag"}); got != exitStartupFailure {
		t.Fatalf("run() = %d, want %d", got, exitStartupFailure)
	}
}

func TestExitCodeContract(t *testing.T) {
	if exitOK != 0 || exitStartupFailure != 1 || exitRuntimeError != 2 {
		t.Fatalf("exit codes = %d/%d/%d, want 0/1/2",
			exitOK, exitStartupFailure, exitRuntimeError)
	}
}
