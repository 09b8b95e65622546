package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"v"},
	Short:   "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", paint(styleBrand, "OpenLoaf"), paint(styleVersion, buildinfo.Version))
		printField("Commit", buildinfo.CommitHash)
		printField("Built", buildinfo.BuildDate)
		printField("OS/Arch", runtime.GOOS+"/"+runtime.GOARCH)
		printField("Go", runtime.Version())
	},
}
