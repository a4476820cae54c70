package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error.
	exitErrHandler(nil, nil)
}

func TestReportExit(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"success no message", cli.Exit("", 0), 0, ""},
		{"connection", cli.Exit("upload a.bin failed: connection refused", 1), 1, "upload a.bin failed: connection refused\n"},
		{"invalid invocation", cli.Exit("upload: invalid port \"x\"", 2), 2, "upload: invalid port \"x\"\n"},
		{"protocol", cli.Exit("download failed: protocol violation", 3), 3, "download failed: protocol violation\n"},
		{"storage", cli.Exit("download failed: local storage failure", 4), 4, "download failed: local storage failure\n"},
		{"wrapped", errors.Join(errors.New("context"), cli.Exit("inner", 42)), 42, "inner\n"},
		{"regular error", errors.New("flag provided but not defined: -x"), 1, "Error: flag provided but not defined: -x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if code := reportExit(&buf, tt.err); code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestReportExit_SuppressesStatusMessage(t *testing.T) {
	var buf bytes.Buffer
	// cli.Exit with an empty message renders as "exit status N" in some versions.
	reportExit(&buf, cli.Exit("", 3))
	if buf.Len() != 0 {
		t.Errorf("empty exit message printed %q", buf.String())
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"upload", "download", "serve", "ledger", "journal", "archive", "service", "version"}
	for _, name := range want {
		if app.Command(name) == nil {
			t.Errorf("missing command %q", name)
		}
	}
	for _, name := range []string{"config", "env-file"} {
		found := false
		for _, f := range app.Flags {
			if f.Names()[0] == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing global flag --%s", name)
		}
	}
}
