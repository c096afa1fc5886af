package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pensa/internal/app"
	"pensa/internal/config"
	"pensa/internal/db"
	"pensa/internal/server"
	pensasdk "pensa/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "pn",
	Short: "pensa work tracker",
	Long: `pensa tracks bugs, tasks, tests and chores for agents working in parallel.
- Daemon: 'pn daemon' owns .pensa/db.sqlite; every other command talks to it over HTTP.
- Issues: created open, claimed to in_progress by one actor, closed with a reason, reopened if needed.
- Deps: 'pn dep add A B' means A waits for B. Cycles are refused.
- Ready: open tasks, tests and chores with no open blocker. Bugs are never ready.
- Snapshot: 'pn export' writes .pensa/*.jsonl for git; an empty store imports them on start.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting identity (default: current OS user)")
	rootCmd.PersistentFlags().String("daemon", pensasdk.DefaultBaseURL, "daemon base URL")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor", "daemon", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(whereCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(closeCmd())
	rootCmd.AddCommand(reopenCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(blockedCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(countCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(doctorCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// actor resolves the acting identity: --actor, then PN_ACTOR, then the OS user.
func actor() string {
	if a := strings.TrimSpace(viper.GetString("actor")); a != "" {
		return a
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return config.DefaultActor
}

func client() *pensasdk.Client {
	return pensasdk.New(viper.GetString("daemon"), actor())
}

func daemonCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve the store over HTTP",
		Long:  "Opens .pensa/db.sqlite, imports the JSONL snapshot into an empty store, and serves the API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = cfg.Server.BasePath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, fail := context.WithCancelCause(ctx)
			defer fail(nil)

			st, err := app.OpenStore(ctx, workspace, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			handler, err := server.New(server.Config{
				Engine:       st.Engine,
				BasePath:     basePath,
				DefaultActor: cfg.Actor.Default,
				Logger:       logger,
				OnFatal:      func(err error) { fail(fmt.Errorf("storage fault: %w", err)) },
			})
			if err != nil {
				return err
			}
			go server.NewHookDispatcher(st.Engine, cfg.Hooks, logger).Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("pensa daemon listening", "addr", addr, "base_path", basePath, "dir", db.Dir(workspace))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown", "err", err)
			}
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			logger.Info("pensa daemon stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func whereCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "where",
		Short: "Print the .pensa directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(db.Dir(viper.GetString("workspace")))
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
}
