package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/apoxy-dev/netdev/config"
	"github.com/apoxy-dev/netdev/pkg/log"
)

var (
	jsonLogs        bool
	alsoLogToStderr bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netdev",
	Short: "netdev drives network devices through a cooperative, budget-bounded scheduler.",
	Long: `netdev registers the devices described in its configuration file and moves
frames between their queues and the protocol layers one scheduler tick at a time.
`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init(logOptions(nil)...)
	},
}

// logOptions merges the logging flags with the settings of cfg, if any.
func logOptions(cfg *config.Config) []log.Option {
	var opts []log.Option
	if config.Verbose || (cfg != nil && cfg.Verbose) {
		opts = append(opts, log.WithDevMode())
	}
	if alsoLogToStderr {
		opts = append(opts, log.WithAlsoLogToStderr())
	}
	if jsonLogs || (cfg != nil && cfg.JSONLogs) {
		opts = append(opts, log.WithJSON())
	}
	return opts
}

// loadConfig loads the config file and reinitializes logging with its settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := log.Init(logOptions(cfg)...); err != nil {
		return nil, err
	}
	log.Debugf("Loaded config %s", config.ConfigFile)
	return cfg, nil
}

// ExecuteContext executes root command with context.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigFile, "config", "", "Config file (default is $HOME/.netdev/config.yaml).")
	rootCmd.PersistentFlags().BoolVar(&alsoLogToStderr, "alsologtostderr", false, "Log to standard error as well as files.")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON.")
	rootCmd.PersistentFlags().BoolVarP(&config.Verbose, "verbose", "v", false, "Enable verbose output.")
}
