package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lwaudit/internal/audit"
	"github.com/nerrad567/lwaudit/internal/device"
	"github.com/nerrad567/lwaudit/internal/infrastructure/config"
	"github.com/nerrad567/lwaudit/internal/infrastructure/database"
)

// defaultConfigPath is used when neither --config nor LWAUDIT_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// errDatabaseDisabled is returned by commands that need the database.
var errDatabaseDisabled = errors.New("database is disabled in the configuration")

// newRootCommand builds the lwaudit command tree. Running the root command
// without a subcommand starts the logger.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "lwaudit",
		Short: "Livewire Audit Logger",
		Long: `lwaudit records every GPIO pin change and source/destination route change
reported by the Livewire devices listed in the device file. Records go to the
console, a daily rotated log file and, when enabled, SQLite, MQTT and InfluxDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default $LWAUDIT_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the audit logger (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		newHistoryCommand(&configPath),
		newDevicesCommand(&configPath),
		newMigrateCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

// resolveConfigPath picks the --config flag, then LWAUDIT_CONFIG, then the
// default path.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration, tolerating a missing default file so
// the CLI works with built-in defaults.
func loadConfig(configPath string) (*config.Config, error) {
	path := resolveConfigPath(configPath)
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured database.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, errDatabaseDisabled
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

type historyOptions struct {
	device string
	level  string
	since  string
	until  string
	limit  int
	offset int
	json   bool
}

func newHistoryCommand(configPath *string) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print persisted audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			filter, err := opts.filter()
			if err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := audit.NewSQLiteRepository(db.DB).List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), result, opts.json)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.device, "device", "", "only records for this device label")
	fs.StringVar(&opts.level, "level", "", "only records of this level (INFO, WARNING, ERROR)")
	fs.StringVar(&opts.since, "since", "", "only records at or after this RFC 3339 time")
	fs.StringVar(&opts.until, "until", "", "only records before this RFC 3339 time")
	fs.IntVar(&opts.limit, "limit", audit.DefaultListLimit, "maximum number of records")
	fs.IntVar(&opts.offset, "offset", 0, "number of records to skip")
	fs.BoolVar(&opts.json, "json", false, "print the result as JSON")
	return cmd
}

func (o historyOptions) filter() (audit.Filter, error) {
	f := audit.Filter{Device: o.device, Limit: o.limit, Offset: o.offset}

	if o.level != "" {
		level, err := audit.ParseLevel(o.level)
		if err != nil {
			return f, err
		}
		f.Level = level
	}
	if o.since != "" {
		t, err := time.Parse(time.RFC3339, o.since)
		if err != nil {
			return f, fmt.Errorf("invalid --since: %w", err)
		}
		f.Since = t
	}
	if o.until != "" {
		t, err := time.Parse(time.RFC3339, o.until)
		if err != nil {
			return f, fmt.Errorf("invalid --until: %w", err)
		}
		f.Until = t
	}
	if o.limit < 0 || o.offset < 0 {
		return f, errors.New("--limit and --offset must not be negative")
	}
	return f, nil
}

func printHistory(w io.Writer, result *audit.ListResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, e := range result.Records {
		if _, err := fmt.Fprintln(w, e.Format()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d of %d records\n", len(result.Records), result.Total)
	return err
}

func newDevicesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Validate and print the device list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			descriptors, invalid, err := device.LoadList(cfg.Devices.File)
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), cfg.Devices.File, descriptors, invalid)
		},
	}
}

func printDevices(w io.Writer, path string, descriptors []device.Descriptor, invalid []device.LineError) error {
	seen := make(map[string]bool, len(descriptors))
	unique := 0
	for _, d := range descriptors {
		note := ""
		switch {
		case seen[d.Address]:
			note = " (duplicate, ignored)"
		case d.Password != "":
			note = " (password set)"
		}
		if !seen[d.Address] {
			unique++
			seen[d.Address] = true
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", d.Address, note); err != nil {
			return err
		}
	}
	for _, le := range invalid {
		if _, err := fmt.Fprintf(w, "skipped %v\n", le); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d devices in %s\n", unique, path)
	return err
}

func newMigrateCommand(configPath *string) *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return errDatabaseDisabled
			}

			ctx := cmd.Context()
			db, err := database.Open(ctx, database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			switch {
			case status:
				applied, pending, err := db.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}
				for _, m := range applied {
					fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
				}
				return nil
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "rolled back the latest migration")
				return nil
			default:
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "migrations applied")
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lwaudit %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
