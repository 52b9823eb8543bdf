package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"r2mig/internal/app"
	"r2mig/internal/config"
	"r2mig/internal/jsonutil"
	"r2mig/internal/r2mig"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the .env file in the base dir, then the config file.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	if err := config.LoadDotEnv(defaults["env_path"]); err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context, override func(*config.Config)) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a, err := app.NewApp(ctx, cfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid migration id %q", s)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:           "r2mig",
	Short:         "Move receipt objects into per-user directories",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Set store.bucket (or R2_BUCKET) and R2 credentials before running a migration.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		printConfig(os.Stdout, cfg)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the app database schema",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DBMigrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		st, err := a.DBStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", st.Version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.DBStatus()
		if err != nil {
			return err
		}
		switch {
		case !st.Initialized:
			fmt.Printf("No schema version (latest %d). Run r2mig db migrate.\n", st.Latest)
		case st.Dirty:
			fmt.Printf("Version %d (dirty): a previous migration failed\n", st.Version)
		case st.Pending() > 0:
			fmt.Printf("Version %d of %d: %d pending\n", st.Version, st.Latest, st.Pending())
		default:
			fmt.Printf("Version %d (up to date)\n", st.Version)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage backup encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair for encrypted backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase for the private key: ", true)
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg.Encryption, passphrase); err != nil {
			return err
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (encrypted)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run and control receipt migrations",
}

var migrateStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Migrate legacy receipts into per-user directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		createdBy, _ := cmd.Flags().GetString("created-by")
		yes, _ := cmd.Flags().GetBool("yes")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		output, _ := cmd.Flags().GetString("output")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, func(c *config.Config) {
			if concurrency > 0 {
				c.Migration.MaxConcurrency = concurrency
			}
		})
		if err != nil {
			return err
		}
		defer a.Close()

		if !dryRun && !yes {
			ok, err := confirm("Objects will be moved and receipt URLs rewritten. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}

		if metricsAddr != "" {
			addr, _, err := a.ServeMetrics(ctx, metricsAddr)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Serving metrics on http://%s/metrics\n", addr)
		}

		// The first interrupt stops dispatching and lets in-flight items
		// finish; a second one abandons them.
		var logID atomic.Int64
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			if id := logID.Load(); id != 0 {
				fmt.Fprintln(os.Stderr, "Stopping after in-flight objects finish (interrupt again to abort)")
				if err := a.Stop(context.WithoutCancel(ctx), id); err != nil {
					fmt.Fprintf(os.Stderr, "stop: %v\n", err)
				}
			} else {
				cancel()
				return
			}
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		res, err := a.Start(ctx, r2mig.StartOptions{
			DryRun:    dryRun,
			BatchSize: batchSize,
			CreatedBy: createdBy,
			Started:   func(id int64) { logID.Store(id) },
		})
		if res != nil {
			if output == "json" {
				if werr := jsonutil.WriteIndented(os.Stdout, res); werr != nil {
					return werr
				}
			} else {
				printStartResult(os.Stdout, res)
			}
		}
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("migration %d did not complete", res.MigrationLogID)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Show progress of a migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		if output == "json" {
			return jsonutil.WriteIndented(os.Stdout, report)
		}

		row, err := a.GetMigrationLog(cmd.Context(), id)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, report, row)
		return nil
	},
}

// controlCmd builds pause/resume/stop, which differ only in the action.
func controlCmd(use, short, done string, action func(*app.App, context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := action(a, cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Migration %d %s\n", id, done)
			return nil
		},
	}
}

var (
	migratePauseCmd  = controlCmd("pause", "Pause a running migration", "paused", (*app.App).Pause)
	migrateResumeCmd = controlCmd("resume", "Resume a paused migration", "resumed", (*app.App).Resume)
	migrateStopCmd   = controlCmd("stop", "Stop a migration after in-flight objects finish", "stopping", (*app.App).Stop)
)

var migrateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		logs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("No migrations recorded.")
			return nil
		}
		printHistory(os.Stdout, logs)
		return nil
	},
}

var migrateValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check receipt URLs against the bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Validate(cmd.Context())
		if err != nil {
			return err
		}
		if output == "json" {
			if err := jsonutil.WriteIndented(os.Stdout, report); err != nil {
				return err
			}
		} else {
			printIntegrity(os.Stdout, report)
		}
		if !report.Success {
			return fmt.Errorf("%d integrity problems found", len(report.Errors))
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count expenses by receipt URL layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStats(os.Stdout, stats)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Work with database backups",
}

var backupDecryptCmd = &cobra.Command{
	Use:   "decrypt FILE OUT",
	Short: "Decrypt an encrypted database backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ", false)
		if err != nil {
			return err
		}
		if err := app.DecryptBackup(cfg.Encryption, passphrase, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Decrypted %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// migrate subcommands
	migrateCmd.AddCommand(migrateStartCmd)
	migrateStartCmd.Flags().Bool("dry-run", false, "Report what would be migrated without changing anything")
	migrateStartCmd.Flags().Int("batch-size", 0, "Items per progress batch (default from config)")
	migrateStartCmd.Flags().Int("concurrency", 0, "Maximum parallel transfers (default from config)")
	migrateStartCmd.Flags().String("created-by", "", "Operator recorded in the migration log")
	migrateStartCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	migrateStartCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	migrateStartCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	migrateCmd.AddCommand(migrateStatusCmd)
	migrateStatusCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	migrateCmd.AddCommand(migratePauseCmd)
	migrateCmd.AddCommand(migrateResumeCmd)
	migrateCmd.AddCommand(migrateStopCmd)
	migrateCmd.AddCommand(migrateHistoryCmd)
	migrateHistoryCmd.Flags().IntP("limit", "n", 20, "Maximum number of migrations to show")
	migrateCmd.AddCommand(migrateValidateCmd)
	migrateValidateCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	// backup subcommands
	backupCmd.AddCommand(backupDecryptCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(backupCmd)
}
