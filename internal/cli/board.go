package cli

import (
	"github.com/spf13/cobra"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/tui"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the interactive task board",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := EnsureDaemon(); err != nil {
			return err
		}
		c, err := connectDaemon()
		if err != nil {
			return err
		}
		defer c.Close()
		return tui.Run(c)
	},
}
