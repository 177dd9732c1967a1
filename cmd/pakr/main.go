package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pakr/internal/app"
	"pakr/internal/config"
	"pakr/internal/pakr"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var stageErr *pakr.StageError
		if errors.As(err, &stageErr) {
			for _, line := range stageErr.Log {
				fmt.Fprintln(os.Stderr, line)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a PakrApp. The caller must defer app.Close().
func newApp(command string) (*app.PakrApp, error) {
	cfg, defaults, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewPakrApp(cfg, command, app.Options{
		ConfigDir: defaults["config_dir"],
		Stderr:    os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "pakr",
	Short:         "Incremental build and packaging tool for mod projects",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile changed scripts, regenerate assets and update the archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		archiveName, _ := cmd.Flags().GetString("archive")

		a, err := newApp("build")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Build(pakr.BuildOptions{
			Full:    full,
			From:    from,
			To:      to,
			Archive: archiveName,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Build %s\n", res.BuildID)
		fmt.Printf("  changed: %d, removed: %d\n", res.Changed, res.Removed)
		if res.Compile != nil && len(res.Compile.Compiled) > 0 {
			fmt.Printf("  compiled: %d script(s)\n", len(res.Compile.Compiled))
		}
		if res.Assets != nil {
			for _, line := range res.Assets.Log {
				fmt.Printf("  %s\n", line)
			}
		}
		if res.Archive != nil {
			if res.Archive.Written {
				fmt.Printf("  archive: %s (%d entries, %d updated, %d added, %d pruned)\n",
					res.ArchivePath, res.Archive.Entries,
					len(res.Archive.Updated), len(res.Archive.Healed), len(res.Archive.Pruned))
			} else {
				fmt.Printf("  archive: %s up to date\n", res.ArchivePath)
			}
			for _, p := range res.Archive.Skipped {
				fmt.Printf("  skipped (missing on disk): %s\n", p)
			}
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next build would pick up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		showDiff, _ := cmd.Flags().GetBool("diff")

		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status()
		if err != nil {
			return err
		}

		if report.Changes.Empty() {
			fmt.Println("Nothing changed since the last build.")
			return nil
		}

		for _, p := range report.Changes.ChangedPaths() {
			marker := "M"
			if _, ok := report.Ledger[p]; !ok {
				marker = "A"
			}
			fmt.Printf("%s  %s\n", marker, p)
		}
		for _, p := range report.Changes.RemovedPaths() {
			fmt.Printf("D  %s\n", p)
		}

		if showDiff {
			diff, err := a.LedgerDiff(report)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Print(diff)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View build history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No builds recorded.")
			return nil
		}

		for _, r := range recs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			generation := ""
			if r.HasGeneration() {
				generation = "  [stored]"
				if r.Encrypted {
					generation = "  [stored, encrypted]"
				}
			}
			fmt.Printf("%s  %s  %-11s  %-7s  +%d -%d  %s%s\n",
				r.BuildID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Mode,
				r.Status,
				r.Changed,
				r.Removed,
				duration,
				generation,
			)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore BUILD_ID",
	Short: "Restore the archive and ledger stored by a previous build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Restore(args[0], func() (string, error) {
			return readPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}

		fmt.Printf("Restored build %s from %s\n", rec.BuildID, rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  archive: %s\n", rec.ArchivePath)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration for the project in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		root, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}

		cfg := config.NewConfig(root, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.MigrateDatabase(cfg, defaults["config_dir"]); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Project root: %s\n", root)
		fmt.Printf("Base Dir:     %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		run, err := cfg.RunConfig(defaults["config_dir"])
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Project root: %s\n", run.Root)
		fmt.Printf("Archive:      %s\n", run.ArchivePath(""))
		fmt.Printf("Ledger:       %s\n", run.LedgerPath())
		fmt.Printf("Compiler:     %s\n", run.Scripts.Compiler)
		fmt.Printf("Packer:       %s\n", run.Assets.Packer)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		encType := cfg.Encryption.Type
		if encType == "" {
			encType = "none"
		}
		fmt.Printf("Encryption:   %s\n", encType)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt stored generations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if err := app.InitKeys(cfg, confirmPassphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Println("Keep the passphrase safe: stored generations cannot be restored without it.")
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the build history database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the build history schema up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg, defaults["config_dir"]); err != nil {
			return err
		}
		fmt.Println("Build history schema is up to date.")
		return nil
	},
}

func init() {
	buildCmd.Flags().Bool("full", false, "Discard the ledger and the archive and rebuild everything")
	buildCmd.Flags().String("from", "", "Only update archive entries changed since this git reference")
	buildCmd.Flags().String("to", "", "Checked-out git reference closing the diff window")
	buildCmd.Flags().String("archive", "", "Archive name for this run, relative to the project root")
	buildCmd.MarkFlagsRequiredTogether("from", "to")
	buildCmd.MarkFlagsMutuallyExclusive("full", "from")

	statusCmd.Flags().Bool("diff", false, "Print a unified diff of the ledger against the tree")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of builds to show")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
}
