// Command refboxd runs one benchmark execution core: a single executor
// driving one robot (optionally coordinated by an external script),
// exposing its display record over a small status RPC. Grounded on the
// teacher's cmd/thrum/main.go cobra wiring and Version/Build ldflags
// globals.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	goruntime "runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/roah-benchmarks/refboxcore/internal/clock"
	"github.com/roah-benchmarks/refboxcore/internal/config"
	"github.com/roah-benchmarks/refboxcore/internal/devicebridge"
	"github.com/roah-benchmarks/refboxcore/internal/display"
	"github.com/roah-benchmarks/refboxcore/internal/displayws"
	"github.com/roah-benchmarks/refboxcore/internal/executor"
	"github.com/roah-benchmarks/refboxcore/internal/lifecycle"
	"github.com/roah-benchmarks/refboxcore/internal/rsbblog"
	"github.com/roah-benchmarks/refboxcore/internal/scriptlink"
	"github.com/roah-benchmarks/refboxcore/internal/secure"
	"github.com/roah-benchmarks/refboxcore/internal/sharedstate"
	"github.com/roah-benchmarks/refboxcore/internal/types"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "refboxd",
		Short:         "Benchmark execution core for a robot referee box",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = Version
	root.SetVersionTemplate("refboxd v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show refboxd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("refboxd v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		team          string
		round         int
		run           int
		benchmarkCode string
		cfgPath       string
		socketPath    string
		scriptPrefix  string
		password      string
		hcfgac        bool
		displayAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a single executor and block until termination",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ev := types.Event{
				Team:         team,
				Round:        round,
				Run:          run,
				BenchmarkCode: benchmarkCode,
				Benchmark: types.BenchmarkDescriptor{
					Code:         benchmarkCode,
					Timeout:      30 * time.Second,
					TotalTimeout: 10 * time.Minute,
					Prefix:       scriptPrefix,
				},
				Password:    password,
				CipherSuite: cfg.RSBBCipher,
			}

			return runExecutor(cmd.Context(), cfg, ev, socketPath, displayAddr, hcfgac)
		},
	}

	cmd.Flags().StringVar(&team, "team", "", "team name")
	cmd.Flags().IntVar(&round, "round", 1, "round number")
	cmd.Flags().IntVar(&run, "run", 1, "run number")
	cmd.Flags().StringVar(&benchmarkCode, "benchmark", "", "benchmark code")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a JSON config file")
	cmd.Flags().StringVar(&socketPath, "socket", "/tmp/refboxd.sock", "status RPC socket path")
	cmd.Flags().StringVar(&scriptPrefix, "script-prefix", "", "script coordination prefix; empty runs without a script")
	cmd.Flags().StringVar(&password, "password", "", "shared secret for the secure channel")
	cmd.Flags().BoolVar(&hcfgac, "hcfgac", false, "mirror robot device fields to the device bridge")
	cmd.Flags().StringVar(&displayAddr, "display-addr", ":8090", "address to stream the display record over WebSocket")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("benchmark")
	return cmd
}

func runExecutor(ctx context.Context, cfg *config.Config, ev types.Event, socketPath, displayAddr string, hcfgac bool) error {
	clk := clock.Real{}
	log := rsbblog.NewMemorySink()
	shared := sharedstate.New(cfg.BasePort)
	shared.SetPassword(ev.Team, ev.Password)

	cipher, err := newCipher(cfg.RSBBCipher, ev.Password)
	if err != nil {
		return err
	}

	var devices devicebridge.Service
	if hcfgac {
		devices = devicebridge.NewMemory()
	}

	if ev.Benchmark.Prefix == "" {
		return runSimple(ctx, clk, log, ev, shared, cipher, devices, cfg, socketPath, displayAddr)
	}
	return runExternal(ctx, clk, log, ev, shared, cipher, cfg, socketPath, displayAddr)
}

func newCipher(suite, password string) (secure.Cipher, error) {
	salt, err := secure.NewSalt()
	if err != nil {
		return nil, err
	}
	key := secure.DeriveKey(password, salt)
	return secure.NewCipher(suite, key)
}

func dialChannel(clk clock.Clock, cipher secure.Cipher, shared *sharedstate.SharedState, host string, cb secure.Callbacks) (*secure.Channel, error) {
	for {
		port := shared.AllocatePort()
		local := fmt.Sprintf(":%d", port)
		remote := fmt.Sprintf("%s:%d", host, port)
		ch, err := secure.Dial(clk, cipher, local, remote, cb)
		if err == nil {
			return ch, nil
		}
		// Resource transient: bind failed, retry with the next port.
	}
}

func runSimple(ctx context.Context, clk clock.Clock, log rsbblog.Sink, ev types.Event, shared *sharedstate.SharedState, cipher secure.Cipher, devices devicebridge.Service, cfg *config.Config, socketPath, displayAddr string) error {
	var exec *executor.Simple
	channel, err := dialChannel(clk, cipher, shared, cfg.RSBBHost, secure.Callbacks{
		OnRobotState:          func(f types.RobotStateFrame) { exec.HandleRobotState(f) },
		OnRogueBenchmarkState: func() { exec.Logf("protocol error: rogue BenchmarkState frame received") },
	})
	if err != nil {
		return err
	}
	if err := shared.ReserveBenchmarking(ev.Team, ev.Team, 0); err != nil {
		channel.Close()
		return err
	}

	done := make(chan struct{})
	exec = executor.NewSimple(clk, log, ev, channel, shared, devices, cfg.AfterStopDuration, cfg.DisplayLogSize, func() { close(done) })
	exec.StartAsync()

	fill := func(now time.Time) display.Zone {
		var z display.Zone
		exec.Fill(now, &z)
		return z
	}

	dws := displayws.NewServer(displayAddr, fill)
	if err := dws.Start(ctx); err != nil {
		return err
	}

	return serveAndWait(ctx, socketPath, fill, done, func() { exec.StopAsync() }, func() { exec.Close(); dws.Stop() })
}

func runExternal(ctx context.Context, clk clock.Clock, log rsbblog.Sink, ev types.Event, shared *sharedstate.SharedState, cipher secure.Cipher, cfg *config.Config, socketPath, displayAddr string) error {
	var exec *executor.External
	channel, err := dialChannel(clk, cipher, shared, cfg.RSBBHost, secure.Callbacks{
		OnRobotState:          func(f types.RobotStateFrame) { exec.HandleRobotState(f) },
		OnRogueBenchmarkState: func() { exec.Logf("protocol error: rogue BenchmarkState frame received") },
	})
	if err != nil {
		return err
	}
	if err := shared.ReserveBenchmarking(ev.Team, ev.Team, 0); err != nil {
		channel.Close()
		return err
	}

	hub := scriptlink.NewHub()
	svc, err := scriptlink.NewService(clk, ev.Benchmark.Prefix, hub, nil)
	if err != nil {
		channel.Close()
		return err
	}

	done := make(chan struct{})
	exec = executor.NewExternal(clk, log, ev, channel, svc, shared, cfg.AfterStopDuration, cfg.DisplayLogSize, func() { close(done) })
	svc.SetBackend(exec)
	svc.StartHeartbeat(ctx)
	exec.StartAsync()

	scriptListener, err := net.Listen("tcp", ":0")
	if err != nil {
		return err
	}
	go func() {
		if err := svc.RPCServer().Serve(ctx, scriptListener); err != nil {
			fmt.Fprintf(os.Stderr, "refboxd: script rpc server stopped: %v\n", err)
		}
	}()

	fill := func(now time.Time) display.Zone {
		var z display.Zone
		exec.Fill(now, &z)
		return z
	}

	dws := displayws.NewServer(displayAddr, fill)
	if err := dws.Start(ctx); err != nil {
		scriptListener.Close()
		return err
	}

	return serveAndWait(ctx, socketPath, fill, done, func() { exec.StopAsync() }, func() {
		exec.Close()
		scriptListener.Close()
		dws.Stop()
	})
}

type fillFunc func(now time.Time) display.Zone

func serveAndWait(ctx context.Context, socketPath string, fill fillFunc, done chan struct{}, stop func(), closeFn func()) error {
	os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("refboxd: status socket: %w", err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	go serveStatus(listener, fill)

	target := &runnableAdapter{stop: stop, closeFn: closeFn, done: done}
	lc := lifecycle.New(target)
	return lc.Run(ctx)
}

func serveStatus(listener net.Listener, fill fillFunc) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			z := fill(time.Now())
			data, err := json.MarshalIndent(z, "", "  ")
			if err != nil {
				return
			}
			w := bufio.NewWriter(conn)
			w.Write(data)
			w.WriteByte('\n')
			w.Flush()
		}()
	}
}

type runnableAdapter struct {
	stop    func()
	closeFn func()
	done    chan struct{}
}

func (r *runnableAdapter) Stop()  { r.stop() }
func (r *runnableAdapter) Close() { r.closeFn() }
func (r *runnableAdapter) Terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func statusCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current display record for a running executor",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
			if err != nil {
				return fmt.Errorf("refboxd: dialing %s: %w", socketPath, err)
			}
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			if scanner.Scan() {
				fmt.Println(scanner.Text())
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "/tmp/refboxd.sock", "status RPC socket path")
	return cmd
}
