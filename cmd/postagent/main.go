package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postagent",
		Short:         "Generate, deduplicate, score and publish scheduled social posts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(runCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(enqueueCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(postsCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(unlockCmd())

	return root
}

func runCmd() *cobra.Command {
	var force, dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish one post if the schedule allows it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), force, dryRun)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore the posting schedule")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the post instead of publishing it")
	return cmd
}

func daemonCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the cron scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <item>...",
		Short: "Queue repositories or topics to post about next",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func queueCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show pending queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func postsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Show recent posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosts(cmd.Context(), cmd.OutOrStdout(), jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max posts to show")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show the next eligible time, topic history and held locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func unlockCmd() *cobra.Command {
	var (
		name  string
		stale bool
	)

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release a lock left behind by a crashed run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(cmd.Context(), cmd.OutOrStdout(), name, stale)
		},
	}

	cmd.Flags().StringVar(&name, "name", publishLock, "lock name")
	cmd.Flags().BoolVar(&stale, "stale", false, "only expire locks older than lock.staleAfter")
	return cmd
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
