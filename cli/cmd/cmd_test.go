package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/archive"
	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/journal"
	"github.com/pithecene-io/ferry/ledger"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/transfer"
	"github.com/pithecene-io/ferry/types"
	"github.com/pithecene-io/ferry/wire"
)

type result struct {
	stdout string
	stderr string
	code   int
}

// runApp runs the CLI in-process and captures its output and exit code.
func runApp(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	app := &cli.App{
		Name:           "ferry",
		Writer:         &out,
		ErrWriter:      &errOut,
		Flags:          GlobalFlags(),
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			UploadCommand(),
			DownloadCommand(),
			ServeCommand(),
			LedgerCommand(),
			JournalCommand(),
			ArchiveCommand(),
			ServiceCommand(),
			VersionCommand("abc123"),
		},
	}
	err := app.RunContext(t.Context(), append([]string{"ferry"}, args...))
	res := result{stdout: out.String(), stderr: errOut.String()}
	var ec cli.ExitCoder
	switch {
	case err == nil:
	case errors.As(err, &ec):
		res.code = ec.ExitCode()
	default:
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	writeFile(t, path, []byte("log:\n  level: error\n"+body))
	return path
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

// startServer serves root on a loopback port and returns the port.
func startServer(t *testing.T, root string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Server.Root = root
	cfg.Server.IdleTimeout = config.Duration{Duration: 2 * time.Second}

	ctx, cancel := context.WithCancel(t.Context())
	out, err := newSinks(ctx, cfg, log.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := newServer(cfg, out, log.Nop(), nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	<-srv.Ready()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()
	return port
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"connection", &transfer.TransferError{Kind: transfer.ErrConnection, Op: "dial", Err: errors.New("refused")}, exitConnection},
		{"invalid", &transfer.TransferError{Kind: transfer.ErrInvalidInvocation, Op: "validate", Err: errors.New("bad")}, exitInvalid},
		{"protocol", &transfer.TransferError{Kind: transfer.ErrProtocol, Op: "negotiate", Err: errors.New("range")}, exitProtocol},
		{"storage", &transfer.TransferError{Kind: transfer.ErrStorage, Op: "open", Err: os.ErrNotExist}, exitStorage},
		{"canceled", context.Canceled, exitConnection},
		{"wrapped storage", fmt.Errorf("outer: %w", &transfer.TransferError{Kind: transfer.ErrStorage, Err: errors.New("x")}), exitStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantAddr string
		wantErr  bool
	}{
		{"valid", []string{"localhost", "9000", "a.bin"}, "localhost:9000", false},
		{"ipv6", []string{"::1", "9000", "a.bin"}, "[::1]:9000", false},
		{"too few", []string{"localhost", "9000"}, "", true},
		{"too many", []string{"localhost", "9000", "a", "b"}, "", true},
		{"port not numeric", []string{"localhost", "http", "a.bin"}, "", true},
		{"port zero", []string{"localhost", "0", "a.bin"}, "", true},
		{"port out of range", []string{"localhost", "70000", "a.bin"}, "", true},
		{"empty host", []string{"", "9000", "a.bin"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := flag.NewFlagSet("test", flag.ContinueOnError)
			if err := set.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			got, err := parseTarget(cli.NewContext(cli.NewApp(), set, nil).Args())
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTarget error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.addr != tt.wantAddr {
				t.Errorf("addr = %q, want %q", got.addr, tt.wantAddr)
			}
		})
	}
}

func TestDownload_ResumesPartialCopy(t *testing.T) {
	root := t.TempDir()
	data := payload(100)
	writeFile(t, filepath.Join(root, "a.bin"), data)
	port := startServer(t, root)

	local := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, local, data[:40])

	res := runApp(t, "--config", writeConfig(t, ""), "download", "--no-color", "127.0.0.1", port, local)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d, stderr:\n%s", res.code, res.stderr)
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("local copy = %d bytes, want the full 100-byte file", len(got))
	}
	want := "completed download a.bin: 100/100 bytes (resumed at 40, received 60)"
	if !strings.Contains(res.stdout, want) {
		t.Errorf("stdout = %q, want %q", res.stdout, want)
	}
	if _, err := os.Stat(ledger.For(local).Path()); !os.IsNotExist(err) {
		t.Errorf("ledger left behind after completion: %v", err)
	}
}

func TestDownload_MissingRemoteFile(t *testing.T) {
	port := startServer(t, t.TempDir())
	local := filepath.Join(t.TempDir(), "none.bin")

	// The server closes without replying; nothing is left behind locally.
	res := runApp(t, "--config", writeConfig(t, ""), "download", "--quiet", "127.0.0.1", port, local)
	if res.code != exitConnection {
		t.Fatalf("exit = %d, want %d", res.code, exitConnection)
	}
	if res.stdout != "" {
		t.Errorf("stdout = %q, want nothing", res.stdout)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("download created %s: %v", local, err)
	}
}

func TestUpload_JournalsReceipt(t *testing.T) {
	root := t.TempDir()
	port := startServer(t, root)

	dir := t.TempDir()
	local := filepath.Join(dir, "report.csv")
	writeFile(t, local, payload(64))
	journalPath := filepath.Join(dir, "journal.bin")
	cfgPath := writeConfig(t, fmt.Sprintf("journal:\n  enabled: true\n  path: %s\n", journalPath))

	res := runApp(t, "--config", cfgPath, "upload", "--no-color", "--chunk-size", "16", "127.0.0.1", port, local)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "upload report.csv: 64/64 bytes (resumed at 0, sent 64)") {
		t.Errorf("stdout = %q", res.stdout)
	}

	res = runApp(t, "journal", "list", "--format", "json", "--path", journalPath)
	if res.code != exitSuccess {
		t.Fatalf("journal list exit = %d: %s", res.code, res.stderr)
	}
	var receipts []types.Receipt
	if err := json.Unmarshal([]byte(res.stdout), &receipts); err != nil {
		t.Fatalf("journal list output is not JSON: %v\n%s", err, res.stdout)
	}
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(receipts))
	}
	r := receipts[0]
	if r.Role != types.RoleInitiator || r.Outcome != types.OutcomeCompleted || r.Size != 64 {
		t.Errorf("receipt = %+v", r)
	}
}

func TestUpload_RemoteName(t *testing.T) {
	root := t.TempDir()
	port := startServer(t, root)
	local := filepath.Join(t.TempDir(), "local.bin")
	writeFile(t, local, payload(10))

	res := runApp(t, "--config", writeConfig(t, ""), "upload", "--no-color", "--remote-name", "remote.bin", "127.0.0.1", port, local)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "upload remote.bin") {
		t.Errorf("stdout = %q, want remote name", res.stdout)
	}
}

func TestTransfer_ExitCodes(t *testing.T) {
	cfgPath := writeConfig(t, "")
	local := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, local, payload(8))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"connection refused", []string{"upload", "--dial-timeout", "2s", "127.0.0.1", closedPort(t), local}, exitConnection},
		{"missing arguments", []string{"upload", "127.0.0.1", "9000"}, exitInvalid},
		{"bad port", []string{"download", "127.0.0.1", "port", local}, exitInvalid},
		{"negative chunk size", []string{"upload", "--chunk-size", "-1", "127.0.0.1", "9000", local}, exitInvalid},
		{"remote name too long", []string{"upload", "--remote-name", strings.Repeat("r", wire.DefaultMaxFilenameLen+1), "127.0.0.1", closedPort(t), local}, exitInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runApp(t, append([]string{"--config", cfgPath}, tt.args...)...)
			if res.code != tt.want {
				t.Errorf("exit = %d, want %d (stderr %q)", res.code, tt.want, res.stderr)
			}
		})
	}
}

func TestUpload_MissingLocalFile(t *testing.T) {
	port := startServer(t, t.TempDir())
	missing := filepath.Join(t.TempDir(), "missing.bin")

	res := runApp(t, "--config", writeConfig(t, ""), "upload", "127.0.0.1", port, missing)
	if res.code != exitStorage {
		t.Errorf("exit = %d, want %d", res.code, exitStorage)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "server:\n  max_conns: -1\n")
	res := runApp(t, "--config", cfgPath, "upload", "127.0.0.1", "9000", "a.bin")
	if res.code != exitInvalid {
		t.Errorf("exit = %d, want %d", res.code, exitInvalid)
	}
}

func TestLedgerShow(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, target, payload(10))
	if err := ledger.For(target).Record(10); err != nil {
		t.Fatal(err)
	}

	res := runApp(t, "ledger", "show", "--format", "json", target)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d: %s", res.code, res.stderr)
	}
	var entry ledger.Entry
	if err := json.Unmarshal([]byte(res.stdout), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, res.stdout)
	}
	if !entry.Present || entry.Bytes != 10 || !entry.Consistent() {
		t.Errorf("entry = %+v", entry)
	}

	if res := runApp(t, "ledger", "show"); res.code != exitInvalid {
		t.Errorf("ledger show without FILE exit = %d, want %d", res.code, exitInvalid)
	}
}

func TestJournalList_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	j, err := journal.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	for i, outcome := range []types.Outcome{types.OutcomeCompleted, types.OutcomeAborted, types.OutcomeCompleted} {
		if err := j.Append(&types.Receipt{SessionID: fmt.Sprint(i), Filename: "a.bin", Outcome: outcome}); err != nil {
			t.Fatal(err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write([]byte{0, 0, 0, 9, 1})
	_ = f.Close()

	res := runApp(t, "journal", "list", "--format", "json", "--failed", "--path", path)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d: %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "torn frame") {
		t.Errorf("stderr = %q, want torn frame warning", res.stderr)
	}
	var receipts []types.Receipt
	if err := json.Unmarshal([]byte(res.stdout), &receipts); err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 || receipts[0].SessionID != "1" {
		t.Errorf("--failed receipts = %+v, want only session 1", receipts)
	}
}

func TestJournalList_TableAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	j, err := journal.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"first.bin", "second.bin", "third.bin"} {
		if err := j.Append(&types.Receipt{SessionID: "0123456789abcdef", Filename: name, Outcome: types.OutcomeCompleted}); err != nil {
			t.Fatal(err)
		}
	}

	res := runApp(t, "journal", "list", "--format", "table", "--no-color", "--limit", "2", "--path", path)
	if res.code != exitSuccess {
		t.Fatalf("exit = %d: %s", res.code, res.stderr)
	}
	if strings.Contains(res.stdout, "first.bin") || !strings.Contains(res.stdout, "third.bin") {
		t.Errorf("--limit 2 output:\n%s", res.stdout)
	}
	if strings.Contains(res.stdout, "0123456789abcdef") || !strings.Contains(res.stdout, "01234567") {
		t.Errorf("session id should be shortened:\n%s", res.stdout)
	}
}

func TestArchiveList(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.NewFS(archive.DefaultDataset, dir)
	if err != nil {
		t.Fatal(err)
	}
	rec := &types.Receipt{
		SessionID:  "s-1",
		Role:       types.RoleResponder,
		Mode:       "upload",
		Filename:   "a.bin",
		Size:       5,
		Outcome:    types.OutcomeCompleted,
		FinishedAt: "2026-10-17T10:00:00Z",
	}
	if err := a.RecordReceipt(t.Context(), rec); err != nil {
		t.Fatal(err)
	}

	cfgPath := writeConfig(t, fmt.Sprintf("archive:\n  backend: fs\n  path: %s\n", dir))
	res := runApp(t, "--config", cfgPath, "archive", "list", "--format", "json")
	if res.code != exitSuccess {
		t.Fatalf("exit = %d: %s", res.code, res.stderr)
	}
	var receipts []types.Receipt
	if err := json.Unmarshal([]byte(res.stdout), &receipts); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, res.stdout)
	}
	if len(receipts) != 1 || receipts[0].SessionID != "s-1" {
		t.Errorf("receipts = %+v", receipts)
	}

	if res := runApp(t, "archive", "list"); res.code != exitInvalid {
		t.Errorf("archive list without backend exit = %d, want %d", res.code, exitInvalid)
	}
}

func TestVersion(t *testing.T) {
	res := runApp(t, "version", "--format", "json")
	if res.code != exitSuccess {
		t.Fatalf("exit = %d", res.code)
	}
	var v VersionResponse
	if err := json.Unmarshal([]byte(res.stdout), &v); err != nil {
		t.Fatal(err)
	}
	if v.Version != types.Version || v.Protocol != types.ProtocolName || v.Commit != "abc123" {
		t.Errorf("version = %+v", v)
	}
}

func TestReadOnlyCommands_RejectTUI(t *testing.T) {
	for _, args := range [][]string{
		{"version", "--tui"},
		{"ledger", "show", "--tui", "a.bin"},
		{"journal", "list", "--tui"},
	} {
		if res := runApp(t, args...); res.code != exitInvalid {
			t.Errorf("%v exit = %d, want %d", args, res.code, exitInvalid)
		}
	}
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui for explicit error handling")
	}
}

func TestServe_MissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	res := runApp(t, "--config", writeConfig(t, ""), "serve", "--addr", "127.0.0.1:0", "--root", missing)
	if res.code != exitInvalid {
		t.Errorf("exit = %d, want %d", res.code, exitInvalid)
	}
}

func TestProgram_StartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Root = t.TempDir()
	p := &program{cfg: cfg, logger: log.Nop()}

	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestProgram_StopBeforeStart(t *testing.T) {
	p := &program{cfg: config.Default(), logger: log.Nop()}
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop = %v, want nil", err)
	}
}

func TestServiceArguments(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", "", "")
	set.String("env-file", "", "")
	if err := set.Parse([]string{"--config", "ferry.yaml"}); err != nil {
		t.Fatal(err)
	}

	args, err := serviceArguments(cli.NewContext(cli.NewApp(), set, nil))
	if err != nil {
		t.Fatal(err)
	}
	abs, _ := filepath.Abs("ferry.yaml")
	want := []string{"--config", abs, "service", "run"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestServiceCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range ServiceCommand().Subcommands {
		names[sub.Name] = true
	}
	for _, want := range []string{"install", "uninstall", "start", "stop", "restart", "run"} {
		if !names[want] {
			t.Errorf("service %s missing", want)
		}
	}
}
