package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/danmuck/webext/internal/host"
	"github.com/danmuck/webext/internal/observability"
	"github.com/danmuck/webext/internal/protocol/session"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "webext-host",
		Short:         "UI-side IPC host for extension workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "webext-host: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		socketPath string
		adminAddr  string
		spawn      int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for worker connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.InitLogger("webext-host")

			cfg := host.DefaultConfig()
			if configPath != "" {
				loaded, err := loadHostConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("socket") {
				cfg.SocketPath = socketPath
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminListenAddr = adminAddr
			}
			if cmd.Flags().Changed("spawn") {
				cfg.Spawn.Count = spawn
			}
			if cfg.SocketPath == "" {
				cfg.SocketPath = session.DefaultSocketPath(os.Getpid())
			}
			logger.Info().
				Str("socket", cfg.SocketPath).
				Str("admin", cfg.AdminListenAddr).
				Int("spawn", cfg.Spawn.Count).
				Msg("starting host")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return host.NewServiceWithConfig(cfg).RunContext(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&socketPath, "socket", "", "worker socket path")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin HTTP listen address")
	cmd.Flags().IntVar(&spawn, "spawn", 0, "number of workers to launch")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("webext-host %s (%s) %s %s/%s\n", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
