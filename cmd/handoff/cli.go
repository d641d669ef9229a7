package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"handoff/internal/api"
	"handoff/internal/config"
	"handoff/internal/logger"
	"handoff/internal/stress"
)

// errVerification は結果の検証に失敗した場合に返される
var errVerification = errors.New("stress run failed verification")

// NewCommand は CLI のルートコマンドを作成する
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:    "handoff",
		Usage:   "Single-worker task offload and condition variable stress harness",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (YAML, JSON or .env)",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides config",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (console, json); overrides config",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a stress scenario and print its report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "preset",
						Aliases: []string{"p"},
						Usage:   "Preset scenario name",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of independent workers, each with its own controller",
					},
					&cli.IntFlag{
						Name:    "iterations",
						Aliases: []string{"n"},
						Usage:   "Number of launch/sync cycles",
					},
					&cli.IntFlag{
						Name:  "fail-every",
						Usage: "Make every Nth hook fail (0 disables)",
					},
					&cli.IntFlag{
						Name:  "reset-every",
						Usage: "End and Reset the worker every N cycles (0 disables)",
					},
					&cli.IntFlag{
						Name:  "ping-pong",
						Usage: "Condition variable ping-pong rounds (0 skips the phase)",
					},
					&cli.DurationFlag{
						Name:  "job-delay",
						Usage: "Time each hook spends working",
					},
					&cli.BoolFlag{
						Name:  "emulated",
						Usage: "Use the semaphore-based condition variable",
					},
					&cli.BoolFlag{
						Name:  "lock-os-thread",
						Usage: "Pin the worker goroutine to an OS thread",
					},
				},
				Action: runStress,
			},
			{
				Name:   "presets",
				Usage:  "List preset scenarios",
				Action: listPresets,
			},
			{
				Name:  "serve",
				Usage: "Start the HTTP/WebSocket API server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address; overrides config (default " + config.DefaultAddr + ")",
					},
				},
				Action: serve,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Fprintf(c.Root().Writer, "handoff version %s\n", version)
					return nil
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}
}

// loadConfig は設定を読み込み、フラグで上書きしてロガーを差し替える
func loadConfig(c *cli.Command) (*config.FileConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}

	l, err := cfg.Log.Logger(logOutput(c))
	if err != nil {
		return nil, fmt.Errorf("invalid log settings: %w", err)
	}
	logger.Default = l

	return cfg, nil
}

func logOutput(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// buildStressConfig は設定ファイルとフラグから stress.Config を組み立てる
func buildStressConfig(c *cli.Command, cfg *config.FileConfig) (stress.Config, error) {
	if c.IsSet("preset") {
		cfg.Stress.Preset = c.String("preset")
	}

	sc, err := cfg.ToStressConfig()
	if err != nil {
		return sc, fmt.Errorf("invalid stress config: %w (presets: %v)", err, stress.ListPresets())
	}

	if c.IsSet("workers") {
		sc.Workers = c.Int("workers")
	}
	if c.IsSet("iterations") {
		sc.Iterations = c.Int("iterations")
	}
	if c.IsSet("fail-every") {
		sc.FailEvery = c.Int("fail-every")
	}
	if c.IsSet("reset-every") {
		sc.ResetEvery = c.Int("reset-every")
	}
	if c.IsSet("ping-pong") {
		sc.PingPongRounds = c.Int("ping-pong")
	}
	if c.IsSet("job-delay") {
		sc.JobDelay = c.Duration("job-delay")
	}
	if c.IsSet("emulated") {
		sc.Emulated = c.Bool("emulated")
	}
	if c.IsSet("lock-os-thread") {
		sc.LockOSThread = c.Bool("lock-os-thread")
	}

	return sc, sc.Validate()
}

func runStress(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sc, err := buildStressConfig(c, cfg)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	fmt.Fprintln(out, "handoff - single-worker stress harness")
	fmt.Fprintln(out, "======================================")
	fmt.Fprintf(out, "Scenario:    %s\n", sc.Name)
	fmt.Fprintf(out, "Workers:     %d\n", max(sc.Workers, 1))
	fmt.Fprintf(out, "Iterations:  %d per worker (fail every %d, reset every %d)\n", sc.Iterations, sc.FailEvery, sc.ResetEvery)
	fmt.Fprintf(out, "Cond:        %s, pinned: %v\n", sc.CondName(), sc.LockOSThread)
	fmt.Fprintf(out, "Ping-pong:   %d rounds\n", sc.PingPongRounds)
	fmt.Fprintln(out, "======================================")

	result, err := stress.New(sc).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, result.Report())
	if !result.Passed() {
		return errVerification
	}
	return nil
}

func listPresets(ctx context.Context, c *cli.Command) error {
	out := c.Root().Writer
	fmt.Fprintln(out, "Available presets:")
	fmt.Fprintln(out)
	for _, name := range stress.ListPresets() {
		p, _ := stress.GetPreset(name)
		fmt.Fprintf(out, "  %-10s %s\n", name, p.Description)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Example: handoff run --preset quick")
	return nil
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	addr := cfg.API.ListenAddr()
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	server, err := api.NewServer(addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warn("", "Closing server: %v", err)
		}
	}()

	fmt.Fprintf(c.Root().Writer, "Serving on http://%s (Ctrl+C to stop)\n", addr)
	return server.Start(ctx)
}
