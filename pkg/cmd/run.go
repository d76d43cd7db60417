package cmd

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"
	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/apoxy-dev/netdev/config"
	"github.com/apoxy-dev/netdev/pkg/device"
	"github.com/apoxy-dev/netdev/pkg/log"
	"github.com/apoxy-dev/netdev/pretty"
)

var (
	runTicks    int
	runBudget   int
	runInterval time.Duration
	runInject   int
	runInjectTo string
	runTrace    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register the configured devices and drive them tick by tick.",
	Long: `Register every device in the configuration file and drive the inbound and
outbound scheduler once per tick. Each tick gives both directions the same
budget. A stats table is printed when the run ends.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("ticks") {
			cfg.Ticks = runTicks
		}
		if cmd.Flags().Changed("budget") {
			cfg.Budget = runBudget
		}
		if cmd.Flags().Changed("interval") {
			cfg.Interval = runInterval
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ns, err := newNetdevStack(cfg)
		if err != nil {
			return fmt.Errorf("failed to build stack: %w", err)
		}
		defer ns.Close()

		if runInject > 0 {
			addr, err := netip.ParseAddr(runInjectTo)
			if err != nil || !addr.Is4() {
				return fmt.Errorf("invalid inject destination %q", runInjectTo)
			}
			if err := ns.inject(runInject, tcpip.AddrFrom4(addr.As4())); err != nil {
				log.Warnf("Failed to inject all packets: %v", err)
			}
		}

		start := time.Now()
		ticks := runTicksLoop(cmd, ns, cfg)
		log.Infof("Ran %d ticks in %s", ticks, pretty.SinceString(start))

		printStats(cmd, ns)
		return nil
	},
}

// runTicksLoop drives both directions once per tick until the configured tick
// count is reached or the command context is cancelled. It returns the number
// of ticks run.
func runTicksLoop(cmd *cobra.Command, ns *netdevStack, cfg *config.Config) int {
	ctx := cmd.Context()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		for _, dir := range []device.Direction{device.In, device.Out} {
			left := ns.stack.Drive(cfg.Budget, dir)
			if runTrace {
				pretty.PrintTick(cmd.OutOrStdout(), time.Now(), tick, dir.String(), left,
					fmt.Sprintf("used %d of %d", cfg.Budget-left, cfg.Budget))
			}
		}

		if cfg.Ticks != 0 && tick == cfg.Ticks {
			return tick
		}
		select {
		case <-ctx.Done():
			log.Infof("Run interrupted after %d ticks", tick)
			return tick
		case <-ticker.C:
		}
	}
}

func printStats(cmd *cobra.Command, ns *netdevStack) {
	tbl := pretty.Table{
		Header: pretty.Header{"DEVICE", "SENT", "DEFERRED", "FAILED", "RECEIVED", "IN", "OUT"},
	}
	for _, dev := range ns.stack.Devices() {
		tbl.Rows = append(tbl.Rows, []interface{}{
			dev.Name(),
			dev.Stats.Sent,
			dev.Stats.Deferred,
			dev.Stats.Failed,
			dev.Stats.Received,
			dev.In.Len(),
			dev.Out.Len(),
		})
	}
	tbl.Fprint(cmd.OutOrStdout())
}

func init() {
	runCmd.Flags().IntVar(&runTicks, "ticks", 0, "Number of ticks to run, zero runs until interrupted.")
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "Transaction budget per direction per tick.")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Time between ticks.")
	runCmd.Flags().IntVar(&runInject, "inject", 0, "Number of probe packets to queue on each device before the first tick.")
	runCmd.Flags().StringVar(&runInjectTo, "inject-to", "10.0.0.2", "Destination address of injected probe packets.")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Print a trace line per tick and direction.")

	rootCmd.AddCommand(runCmd)
}
