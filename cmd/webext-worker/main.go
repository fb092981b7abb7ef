package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/webext/internal/observability"
	"github.com/danmuck/webext/internal/protocol/channel"
	"github.com/danmuck/webext/internal/protocol/session"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/danmuck/webext/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		socket     string
		configPath string
		name       string
		status     int
	)
	cmd := &cobra.Command{
		Use:           "webext-worker",
		Short:         "Extension worker process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.InitLogger("webext-worker")

			cfg := worker.DefaultConfig()
			if configPath != "" {
				loaded, err := loadWorkerConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("name") {
				cfg.Name = name
			}
			// flag, then environment, then the config file
			path, err := session.ResolveSocket(socket)
			switch {
			case err == nil:
				cfg.SocketPath = path
			case cfg.SocketPath == "":
				return err
			}
			logger.Info().Str("socket", cfg.SocketPath).Str("name", cfg.Name).Msg("starting worker")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			status = worker.Main(ctx, cfg, registerPing)
			return nil
		},
	}
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.Flags().StringVar(&socket, session.SocketFlag, "", "UI process socket path (or $"+session.EnvSocket+")")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&name, "name", "", "worker name used in logs")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "webext-worker: %v\n", err)
		return 1
	}
	return status
}

// registerPing answers "ping" on the channel layer so a host can probe a
// worker end to end.
func registerPing(_ context.Context, w *worker.Worker) error {
	w.Hub().Subscribe("ping", func(from channel.Source, args []value.Value) {
		reply := make([]any, len(args))
		for i, a := range args {
			reply[i] = a
		}
		if err := from.Reply("pong", reply...); err != nil {
			_ = w.Log(zerolog.WarnLevel, "pong failed", map[string]any{"err": err.Error()})
		}
	})
	return nil
}
