package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lwaudit/internal/audit"
	"github.com/nerrad567/lwaudit/internal/infrastructure/config"
	"github.com/nerrad567/lwaudit/internal/monitor"
)

// testEnv holds the paths of one temporary installation.
type testEnv struct {
	dir     string
	config  string
	devices string
	logFile string
}

func newTestEnv(t *testing.T, databaseEnabled bool) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "config.yaml"),
		devices: filepath.Join(dir, "devices.txt"),
		logFile: filepath.Join(dir, "logs", "LW-Audit.log"),
	}

	content := `
devices:
  file: "` + env.devices + `"
  create_if_missing: true
lwrp:
  connect_timeout: 2
  login_timeout: 2
audit:
  console: false
  file:
    path: "` + env.logFile + `"
database:
  enabled: ` + strconv.FormatBool(databaseEnabled) + `
  path: "` + filepath.Join(dir, "data", "lwaudit.db") + `"
mqtt:
  enabled: false
influxdb:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
`
	if err := os.WriteFile(env.config, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	prev := consoleOutput
	consoleOutput = io.Discard
	t.Cleanup(func() { consoleOutput = prev })
	return env
}

// fakeDevice accepts one LWRP session, answers VER and records commands.
type fakeDevice struct {
	ln       net.Listener
	mu       sync.Mutex
	conn     net.Conn
	commands []string
}

func startFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeDevice{ln: ln}
	go f.serve()
	t.Cleanup(func() {
		ln.Close()
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
	})
	return f
}

func (f *fakeDevice) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		f.mu.Lock()
		f.commands = append(f.commands, line)
		f.mu.Unlock()
		if line == "VER" {
			conn.Write([]byte("VER LWRP:1.4.3 DEVN:\"fake\" SYSV:2.1\r\n"))
		}
	}
}

func (f *fakeDevice) waitCommand(t *testing.T, want string) {
	t.Helper()
	waitFor(t, "command "+want, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range f.commands {
			if c == want {
				return true
			}
		}
		return false
	})
}

func (f *fakeDevice) send(t *testing.T, lines ...string) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if _, err := conn.Write([]byte(strings.Join(lines, "\r\n") + "\r\n")); err != nil {
		t.Fatalf("fake device write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "/etc/lwaudit.yaml", "/env.yaml", "/etc/lwaudit.yaml"},
		{"env", "", "/env.yaml", "/env.yaml"},
		{"default", "", "", defaultConfigPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvPrefix+"CONFIG", tt.env)
			if got := resolveConfigPath(tt.flag); got != tt.want {
				t.Errorf("resolveConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_SkipsInvalidDeviceLines(t *testing.T) {
	env := newTestEnv(t, false)
	dev := startFakeDevice(t)
	addr := dev.ln.Addr().String()
	list := "10.0.0.6 studio\n" + addr + "\n"
	if err := os.WriteFile(env.devices, []byte(list), 0600); err != nil {
		t.Fatalf("write device list: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, env.config) }()

	waitFor(t, "login record", func() bool {
		data, _ := os.ReadFile(env.logFile)
		return bytes.Contains(data, []byte(monitor.MsgLoggedIn))
	})
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	lines := strings.Split(strings.TrimSpace(readFile(t, env.logFile)), "\n")
	if len(lines) < 2 {
		t.Fatalf("log too short:\n%s", strings.Join(lines, "\n"))
	}
	if !strings.HasSuffix(lines[0], msgStart) {
		t.Errorf("first line = %q, want start record", lines[0])
	}
	second := lines[1]
	if !strings.Contains(second, " WARNING ") || !strings.Contains(second, "SYSTEM") ||
		!strings.Contains(second, msgInvalidDevice+"line 1:") {
		t.Errorf("second line = %q, want warning for line 1", second)
	}
}

func TestRun_CreatesDeviceList(t *testing.T) {
	env := newTestEnv(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, env.config) }()

	waitFor(t, "device list", func() bool {
		_, err := os.Stat(env.devices)
		return err == nil
	})
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if got := readFile(t, env.devices); !strings.HasPrefix(got, "# Put one Livewire device IP Address per line") {
		t.Errorf("device list header = %q", got)
	}
	log := readFile(t, env.logFile)
	if !strings.Contains(log, msgStart) || !strings.Contains(log, msgClosing) {
		t.Errorf("log missing lifecycle records:\n%s", log)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	env := newTestEnv(t, true)
	dev := startFakeDevice(t)
	addr := dev.ln.Addr().String()
	if err := os.WriteFile(env.devices, []byte("# studio\n"+addr+"\n"+addr+"\n"), 0600); err != nil {
		t.Fatalf("write device list: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, env.config) }()

	dev.waitCommand(t, "ADD GPI")
	dev.waitCommand(t, "DST")
	waitFor(t, "login record", func() bool {
		data, _ := os.ReadFile(env.logFile)
		return bytes.Contains(data, []byte(monitor.MsgLoggedIn))
	})
	dev.send(t, "GPI 1 hhhhh")
	dev.send(t, "GPI 1 lhhhh")

	waitFor(t, "state change record", func() bool {
		data, _ := os.ReadFile(env.logFile)
		return bytes.Contains(data, []byte("GPI Port 1 State Change:"))
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	log := readFile(t, env.logFile)
	lines := strings.Split(strings.TrimSpace(log), "\n")
	wantOrder := []string{
		msgStart,
		monitor.MsgConnected,
		monitor.MsgLoggedIn,
		"GPI Port 1 State Change:",
		msgClosing,
		monitor.MsgDisconnecting,
	}
	i := 0
	for _, line := range lines {
		if i < len(wantOrder) && strings.Contains(line, wantOrder[i]) {
			i++
		}
	}
	if i != len(wantOrder) {
		t.Errorf("log missing %q in order:\n%s", wantOrder[i], log)
	}
	if n := strings.Count(log, monitor.MsgConnected); n != 1 {
		t.Errorf("duplicate device connected %d times", n)
	}

	// The same records were persisted.
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--config", env.config, "--device", addr})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out.String(), "GPI Port 1 State Change:") {
		t.Errorf("history output missing state change:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "4 of 4 records") {
		t.Errorf("history summary wrong:\n%s", out.String())
	}
}

func TestHistoryCommand(t *testing.T) {
	env := newTestEnv(t, true)
	cfg, err := loadConfig(env.config)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	ctx := context.Background()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		t.Fatalf("openDatabase: %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, rec := range []audit.Record{
		{Level: audit.LevelInfo, Device: audit.SystemLabel, Message: msgStart},
		{Level: audit.LevelWarning, Device: "10.0.0.5", Message: monitor.MsgCannotConnect},
		{Level: audit.LevelInfo, Device: "10.0.0.6", Message: monitor.MsgConnected},
	} {
		rec.Time = base.Add(time.Duration(i) * time.Minute)
		if _, err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	db.Close()

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{"all", nil, []string{monitor.MsgConnected, msgStart, "3 of 3 records"}, false},
		{"by level", []string{"--level", "warning"}, []string{monitor.MsgCannotConnect, "1 of 1 records"}, false},
		{"paged", []string{"--limit", "1", "--offset", "2"}, []string{msgStart, "1 of 3 records"}, false},
		{"json", []string{"--json", "--device", "10.0.0.6"}, []string{`"total": 1`, `"device": "10.0.0.6"`}, false},
		{"bad level", []string{"--level", "DEBUG"}, nil, true},
		{"bad since", []string{"--since", "yesterday"}, nil, true},
		{"negative limit", []string{"--limit=-1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCommand()
			cmd.SetOut(&out)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(append([]string{"history", "--config", env.config}, tt.args...))

			err := cmd.Execute()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestHistoryCommand_DatabaseDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	cmd := newRootCommand()
	cmd.SetArgs([]string{"history", "--config", env.config})
	if err := cmd.Execute(); err != errDatabaseDisabled {
		t.Errorf("Execute() error = %v, want errDatabaseDisabled", err)
	}
}

func TestDevicesCommand(t *testing.T) {
	env := newTestEnv(t, false)
	list := "# comment\n10.0.0.5\n10.0.0.6|secret\n\n10.0.0.7 studio\n10.0.0.5\n"
	if err := os.WriteFile(env.devices, []byte(list), 0600); err != nil {
		t.Fatalf("write device list: %v", err)
	}

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"devices", "--config", env.config})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := "10.0.0.5\n10.0.0.6 (password set)\n10.0.0.5 (duplicate, ignored)\n" +
		"skipped line 5: device: invalid descriptor: address \"10.0.0.7 studio\" contains whitespace\n" +
		"2 devices in " + env.devices + "\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
	if strings.Contains(out.String(), "secret") {
		t.Error("password printed")
	}
}

func TestDevicesCommand_MissingList(t *testing.T) {
	env := newTestEnv(t, false)
	cmd := newRootCommand()
	cmd.SetArgs([]string{"devices", "--config", env.config})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing device list")
	}
}

func TestMigrateCommand(t *testing.T) {
	env := newTestEnv(t, true)

	execute := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"migrate", "--config", env.config}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("migrate %v error = %v", args, err)
		}
		return out.String()
	}

	if got := execute("--status"); !strings.Contains(got, "pending  20260301_000000") {
		t.Errorf("status before migrate =\n%s", got)
	}
	execute()
	if got := execute("--status"); !strings.Contains(got, "applied  20260301_000000") {
		t.Errorf("status after migrate =\n%s", got)
	}
	execute("--down")
	if got := execute("--status"); !strings.Contains(got, "pending  20260301_000000") {
		t.Errorf("status after rollback =\n%s", got)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "lwaudit "+version) {
		t.Errorf("output = %q", out.String())
	}
}
