// Command avsync runs the AV collision report ingestion service: an HTTP API
// with an optional daily scheduler, one-shot sync commands, migrations, and an
// MCP server over stdio.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/avreports/avsync"
	"github.com/hazyhaar/avreports/dbopen"
)

// Version is set through -ldflags at build time.
var version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "avsync",
		Short:         "Ingest autonomous-vehicle collision reports from the California DMV",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("AVSYNC_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSyncIndexCmd(),
		newSyncPDFsCmd(),
		newRequeueCmd(),
		newRunsCmd(),
		newMCPCmd(),
	)
	return root
}

// app holds what every command needs once config and database are ready.
type app struct {
	cfg    *avsync.Config
	db     *sql.DB
	svc    *avsync.Service
	logger *slog.Logger
}

func (a *app) Close() {
	if a.svc != nil {
		a.svc.Close()
	}
	a.db.Close()
}

// setup loads the config, installs the logger, opens the database and, when
// migrateDB is set, applies pending migrations. A migration failure is fatal.
func setup(ctx context.Context, logOut io.Writer, migrateDB bool) (*app, error) {
	cfg, err := avsync.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	lvl, err := avsync.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	db, err := dbopen.Open(cfg.Storage.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, logger: logger}
	if !migrateDB {
		return a, nil
	}

	rep, err := avsync.Migrate(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(rep.Applied) > 0 {
		logger.Info("avsync: migrations applied", "applied", rep.Applied, "skipped", rep.Skipped)
	}

	svc, err := avsync.New(avsync.NewStore(db), cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- serve ---

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := setup(ctx, os.Stdout, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Start(ctx); err != nil {
				return err
			}
			return serve(ctx, a.cfg.API.Listen, newRouter(ctx, a.svc, a.cfg, a.logger), a.logger)
		},
	}
}

// --- migrate ---

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := setup(ctx, os.Stderr, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if status {
				steps, err := avsync.MigrationStatus(ctx, a.db)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tAPPLIED\tAT\tDESCRIPTION")
				for _, s := range steps {
					at := "-"
					if s.Applied {
						at = s.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", s.ID, s.Applied, at, s.Description)
				}
				return tw.Flush()
			}

			rep, err := avsync.Migrate(ctx, a.db, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d, already applied %d\n", len(rep.Applied), rep.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and their state without applying")
	return cmd
}

// --- one-shot syncs ---

func newSyncIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-index",
		Short: "Scrape the listing page once and record new entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.SyncIndex(ctx)
			if res != nil {
				printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
}

func newSyncPDFsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync-pdfs",
		Short: "Download and parse one batch of pending reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.SyncPDFs(ctx, limit)
			if res != nil {
				printJSON(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to process (0 uses sync.default_limit)")
	return cmd
}

func newRequeueCmd() *cobra.Command {
	var allFailed bool
	cmd := &cobra.Command{
		Use:   "requeue [entry-key...]",
		Short: "Reset entries to pending so the next PDF sync retries them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.Requeue(ctx, args, allFailed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"requeued": n})
		},
	}
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "also reset every failed entry")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var (
		limit int
		open  bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.svc.Runs(ctx, limit, open)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs")
	cmd.Flags().BoolVar(&open, "open", false, "only runs that never finished")
	return cmd
}

// --- mcp ---

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the avsync tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			// stdout carries the protocol; logs go to stderr.
			a, err := setup(ctx, os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "avsync", Version: version}, nil)
			a.svc.RegisterMCP(srv)
			a.logger.Info("avsync: mcp server on stdio")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
