package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/guidpatch/internal/auth"
	"github.com/mistakeknot/guidpatch/internal/cli"
	"github.com/mistakeknot/guidpatch/internal/config"
	httpapi "github.com/mistakeknot/guidpatch/internal/http"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/server"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
	"github.com/mistakeknot/guidpatch/internal/telemetry"
	"github.com/mistakeknot/guidpatch/pkg/embedded"
)

const serviceName = "guidpatch"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		config.Exitf("guidpatch: %v", err)
	}
	if err := rootCmd(&cfg, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd(cfg *config.Config, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "guidpatch",
		Short:        "Convert SQLite identifier columns from 16-byte blobs to uppercase text",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file")
	f.StringVar(&cfg.MappingPath, "mapping", cfg.MappingPath, "entity mapping file (.yaml or .toml)")
	f.StringVar(&cfg.DatabaseType, "database-type", cfg.DatabaseType, "host storage engine")
	f.StringVar(&cfg.Marker, "marker", cfg.Marker, "ledger marker id")
	f.StringVar(&cfg.LedgerTable, "ledger-table", cfg.LedgerTable, "migration history table")
	f.StringVar(&cfg.LedgerColumn, "ledger-column", cfg.LedgerColumn, "migration history id column")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	f.BoolVar(&cfg.LogRows, "log-rows", cfg.LogRows, "log every converted row at debug level")
	f.StringVar(&cfg.ByteOrder, "byte-order", cfg.ByteOrder, "blob layout: mixed or rfc4122")
	f.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "rows per transaction")

	mapping := &cobra.Command{Use: "mapping", Short: "Manage the entity mapping file"}
	mapping.AddCommand(mappingInitCmd(cfg))

	root.AddCommand(checkCmd(cfg), applyCmd(cfg), inspectCmd(cfg), mapping, serveCmd(cfg))
	return root
}

func gateConfig(cfg *config.Config, cmd *cobra.Command) (embedded.GateConfig, error) {
	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return embedded.GateConfig{}, err
	}
	if _, err := cfg.PatchOptions(logger); err != nil {
		return embedded.GateConfig{}, err
	}
	return embedded.GateConfig{
		DBPath:           cfg.DBPath,
		DatabaseType:     cfg.DatabaseType,
		ChunkSize:        cfg.ChunkSize,
		Marker:           cfg.Marker,
		LedgerTable:      cfg.LedgerTable,
		LedgerColumn:     cfg.LedgerColumn,
		LedgerTimeColumn: cfg.LedgerTimeColumn,
		ByteOrder:        cfg.ByteOrder,
		Logger:           logger,
		LogRows:          cfg.LogRows,
	}, nil
}

func checkCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the identifier migration still needs to run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := cfg.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, _, err := cfg.NewPatch(logger)
			if err != nil {
				return err
			}
			store, err := sqlite.OpenExisting(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			needed, err := p.ShouldApply(cmd.Context(), store.Handle())
			if err != nil {
				return err
			}
			if needed {
				fmt.Fprintf(cmd.OutOrStdout(), "needed: marker %s not recorded\n", p.Marker())
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not needed")
			}
			return nil
		},
	}
}

func applyCmd(cfg *config.Config) *cobra.Command {
	var (
		force    bool
		noRecord bool
		asJSON   bool
		otelURL  string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run the startup gate: migrate identifier columns and record the marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			shutdown, err := telemetry.Setup(ctx, serviceName, otelURL)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			gc, err := gateConfig(cfg, cmd)
			if err != nil {
				return err
			}
			gc.Force = force
			gc.NoRecord = noRecord
			m, err := embedded.LoadMapping(cfg.MappingPath)
			if err != nil {
				return err
			}
			res, err := embedded.RunStartupGate(ctx, gc, m)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the marker is already recorded")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not write the ledger marker")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	cmd.Flags().StringVar(&otelURL, "otel-endpoint", cfg.OTelEndpoint, "OTLP/HTTP trace endpoint")
	return cmd
}

func printResult(w io.Writer, res embedded.GateResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.Applied {
		fmt.Fprintln(w, "not needed")
		return nil
	}
	for _, t := range res.Report.Tables {
		fmt.Fprintf(w, "%s: %d/%d rows updated in %d transactions\n", t.Table, t.Updated, t.Rows, t.Transactions())
	}
	fmt.Fprintf(w, "updated %d rows in %s", res.Report.Updated(), res.Elapsed.Round(1e6))
	if res.Recorded {
		fmt.Fprintf(w, "; recorded %s", res.Marker)
	}
	fmt.Fprintln(w)
	return nil
}

func inspectCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the identifier columns each table would convert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := cfg.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, _, err := cfg.NewPatch(logger)
			if err != nil {
				return err
			}
			store, err := sqlite.OpenExisting(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			tables, err := p.Inspect(cmd.Context(), store.Handle())
			if err != nil {
				return err
			}
			return cli.WriteTables(cmd.OutOrStdout(), tables)
		},
	}
}

func mappingInitCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter mapping file from the live schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := sqlite.OpenExisting(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			res, err := cli.InitMapping(cmd.Context(), store.DB(), cfg.MappingPath, cfg.LedgerTable)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tables added, %d kept\n", res.Path, len(res.TablesAdded), res.Existing)
			return nil
		},
	}
}

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the startup gate, then serve health, status and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			gc, err := gateConfig(cfg, cmd)
			if err != nil {
				return err
			}
			p, m, err := cfg.NewPatch(gc.Logger)
			if err != nil {
				return err
			}
			tracker := httpapi.NewTracker(p.Marker())
			res, err := embedded.RunStartupGate(ctx, gc, m)
			tracker.Set(res.Report, err)
			if err != nil {
				// Listeners stay closed: the host must not start on a partial migration.
				return err
			}

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			svc := httpapi.NewService(tracker, store.DB()).WithLogger(gc.Logger).WithInspector(func(ctx context.Context) ([]schema.Table, error) {
				return p.Inspect(ctx, store.Handle())
			})
			ring, err := auth.ParseKeys(cfg.APIKeys, cfg.AllowLocalhost)
			if err != nil {
				return err
			}
			srv, err := server.New(server.Config{
				Addr:       cfg.Addr,
				SocketPath: cfg.Socket,
				Handler:    httpapi.NewRouter(svc, auth.Guard(ring)),
				Logger:     gc.Logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP listen address")
	cmd.Flags().StringVar(&cfg.Socket, "socket", cfg.Socket, "optional unix socket path")
	cmd.Flags().StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP/HTTP trace endpoint")
	return cmd
}
