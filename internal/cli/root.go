// Package cli implements the epl command.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/logging"
)

var (
	flagDebug bool
	runCfg    = config.DefaultRunConfig()

	logger *slog.Logger
)

// defaultConfigDir returns the configs directory, checking EPL_CONFIG_DIR first.
func defaultConfigDir() string {
	if d := os.Getenv("EPL_CONFIG_DIR"); d != "" {
		return d
	}
	return runCfg.ConfigDir
}

// NewRootCmd creates the root cobra command for the epl CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "epl",
		Short: "Run and inspect behavioral experiment sessions",
		Long:  "epl runs resumable experiment sessions and inspects their saved state.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				runCfg.LogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(runCfg.LogLevel), runCfg.LogFormat)
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&runCfg.ConfigDir, "config-dir", defaultConfigDir(), "Directory holding config.json and experiment configs (or EPL_CONFIG_DIR env)")
	pf.StringVar(&runCfg.DataDir, "data-dir", runCfg.DataDir, "Root directory for session data")
	pf.StringVar(&runCfg.StoreKind, "store", runCfg.StoreKind, "Snapshot store (memory, file, sqlite, postgres, redis, mongo)")
	pf.StringVar(&runCfg.StoreDSN, "dsn", runCfg.StoreDSN, "Connection string for sqlite, postgres, redis or mongo")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&runCfg.LogLevel, "log-level", runCfg.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&runCfg.LogFormat, "log-format", runCfg.LogFormat, "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newInspectCmd(),
		newExperimentsCmd(),
	)

	return root
}
