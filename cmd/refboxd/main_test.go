package main

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/display"
)

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "status", "version"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}

func TestRunCmdRequiresTeamAndBenchmark(t *testing.T) {
	cmd := runCmd()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() with no --team/--benchmark succeeded, want a required-flag error")
	}
}

func TestNewCipherRejectsUnknownSuite(t *testing.T) {
	if _, err := newCipher("not-a-real-cipher", "secret"); err == nil {
		t.Fatal("newCipher() with an unknown suite succeeded, want an error")
	}
}

func TestNewCipherBuildsKnownSuite(t *testing.T) {
	c, err := newCipher("chacha20poly1305", "secret")
	if err != nil {
		t.Fatalf("newCipher() failed: %v", err)
	}
	if c == nil {
		t.Fatal("newCipher() returned a nil Cipher")
	}
}

func TestServeStatusRespondsWithCurrentZone(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "refboxd.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	defer l.Close()

	fill := func(now time.Time) display.Zone {
		return display.Zone{State: "Running (EXEC)"}
	}
	go serveStatus(l, fill)

	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	var lines []byte
	for scanner.Scan() {
		lines = append(lines, scanner.Bytes()...)
	}
	var zone display.Zone
	if err := json.Unmarshal(lines, &zone); err != nil {
		t.Fatalf("Unmarshal(%q) failed: %v", lines, err)
	}
	if zone.State != "Running (EXEC)" {
		t.Fatalf("zone.State = %q, want 'Running (EXEC)'", zone.State)
	}
}

func TestRunnableAdapterTerminatedReflectsDoneChannel(t *testing.T) {
	done := make(chan struct{})
	var stopCalled, closeCalled bool
	r := &runnableAdapter{
		stop:    func() { stopCalled = true },
		closeFn: func() { closeCalled = true },
		done:    done,
	}

	if r.Terminated() {
		t.Fatal("Terminated() = true before done channel closed")
	}

	r.Stop()
	r.Close()
	if !stopCalled || !closeCalled {
		t.Fatalf("stop/close delegation: stopCalled=%v closeCalled=%v, want both true", stopCalled, closeCalled)
	}

	close(done)
	if !r.Terminated() {
		t.Fatal("Terminated() = false after done channel closed")
	}
}

func TestStatusCmdDialFailureReturnsError(t *testing.T) {
	cmd := statusCmd()
	missing := filepath.Join(t.TempDir(), "nonexistent.sock")
	cmd.SetArgs([]string{"--socket", missing})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("status command against a missing socket succeeded, want an error")
	}
}
