// loom is the command-line surface of the storyloom backend: story and
// fragment management, branch and chain operations, streaming generation,
// librarian control and the provider registry.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
)

var (
	// Global flags
	configPath string
	dataDir    string
	verbose    bool
	metricsOn  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "storyloom - long-form writing workspace backend",
	Long: `storyloom manages story workspaces on disk: fragments with version
history, branches, the prose chain, AI generation with tool use, and a
background librarian that analyzes the manuscript as it grows.

State lives under the data directory (default ./data, override with
--data-dir or DATA_DIR). Model providers are configured with "loom providers".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		if !cmd.Flags().Changed("config") {
			if env := os.Getenv("LOOM_CONFIG"); env != "" {
				configPath = env
			}
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(logging.Options{
			Dir:        cfg.LogDir(),
			Level:      level,
			Console:    verbose,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}
		if cfg.Logging.Audit {
			if err := logging.InitAudit(); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
	},
}

// initCmd scaffolds a workspace: data directory plus a default config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config already exists at %s\n", configPath)
			return nil
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		abs, _ := filepath.Abs(cfg.DataDir)
		fmt.Printf("Initialized workspace: config=%s data=%s\n", configPath, abs)
		return nil
	},
}

// withEngine assembles the backend, runs fn, and tears it down.
func withEngine(fn func(*engine.Engine) error) error {
	e, err := engine.New(cfg, engine.Options{Metrics: metricsOn})
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "loom.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&metricsOn, "metrics", false, "Enable the Prometheus metrics recorder")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(storiesCmd)
	rootCmd.AddCommand(foldersCmd)
	rootCmd.AddCommand(fragmentsCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(librarianCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
