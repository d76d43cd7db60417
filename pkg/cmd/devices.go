package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apoxy-dev/netdev/pretty"
)

var showDevicesCmd = &cobra.Command{
	Use:     "devices",
	Short:   "List the configured devices in scheduling order.",
	Aliases: []string{"dev", "devs"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ns, err := newNetdevStack(cfg)
		if err != nil {
			return fmt.Errorf("failed to build stack: %w", err)
		}
		defer ns.Close()

		tbl := pretty.Table{
			Header: pretty.Header{"NAME", "HASH", "TYPE", "MAC", "DRIVER"},
		}
		for _, dev := range ns.stack.Devices() {
			typ, mac := "raw", ""
			if dev.Eth != nil {
				typ, mac = "ethernet", dev.Eth.MAC.String()
			}
			tbl.Rows = append(tbl.Rows, []interface{}{
				dev.Name(),
				fmt.Sprintf("%016x", dev.Hash()),
				typ,
				mac,
				ns.drivers[dev],
			})
		}
		tbl.Fprint(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showDevicesCmd)
}
