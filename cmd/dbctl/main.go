// Package main provides dbctl, an operator CLI for the embedded storage
// engine: applying migrations, checking index health, probing connectivity,
// and resetting state.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumenshell/lumen/internal/dbengine"
)

var (
	dbPath       string
	configFile   string
	operationMs  int
	gracefulFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "dbctl",
	Short: "Operate the embedded SQL storage engine",
	Long: `dbctl is an operator CLI for the embedded SQL storage engine.

It wraps the same engine application code embeds, so "dbctl migrate" and
friends exercise the exact lifecycle, retry, and migration logic the
running application would use.

Examples:
  dbctl migrate --db ./app.db
  dbctl verify-indices --db ./app.db
  dbctl health --db ./app.db
  dbctl reset --db ./app.db`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite database file (required)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional TOML defaults file")
	rootCmd.PersistentFlags().IntVar(&operationMs, "timeout-ms", 5000, "per-operation timeout in milliseconds")
	rootCmd.PersistentFlags().BoolVar(&gracefulFlag, "graceful", false, "enable graceful degradation")

	// db/timeout-ms are read back through viper in buildEngine rather than
	// off the flag vars directly, so DBCTL_DB/DBCTL_TIMEOUT_MS can supply a
	// persisted default wherever the flag itself is left unset.
	viper.SetEnvPrefix("dbctl")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("timeout_ms", rootCmd.PersistentFlags().Lookup("timeout-ms"))

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(verifyIndicesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

// buildEngine constructs an Engine from the --db/--config/--timeout-ms/
// --graceful flags, optionally layering a TOML defaults file underneath
// them. db and timeout-ms are resolved through viper rather than read off
// the bound package vars directly, so the DBCTL_DB/DBCTL_TIMEOUT_MS
// environment variables supply a value wherever the corresponding flag was
// not given on the command line: flag > env > flag default.
func buildEngine() (*dbengine.Engine, error) {
	path := viper.GetString("db")
	if path == "" {
		return nil, fmt.Errorf("--db is required (or set DBCTL_DB)")
	}

	cfg := dbengine.DefaultConfig(path)
	if configFile != "" {
		fc, err := dbengine.LoadConfigFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", configFile, err)
		}
		cfg = fc.Config()
		cfg.Path = path
	}
	cfg.OperationTimeout = time.Duration(viper.GetInt("timeout_ms")) * time.Millisecond
	cfg.GracefulDegradation = gracefulFlag

	return dbengine.New(cfg), nil
}
