package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"config"},
	Short:   "Show daemon settings",
	Long: `Show the effective daemon settings: settings.yaml merged with defaults
and OPENLOAF_* environment overrides.`,
	RunE: runSettings,
}

var settingsPathOnly bool

func init() {
	settingsCmd.Flags().BoolVar(&settingsPathOnly, "path", false, "Print the settings file path only")
}

func runSettings(cmd *cobra.Command, args []string) error {
	path, err := config.GlobalSettingsFile()
	if err != nil {
		return err
	}
	if settingsPathOnly {
		fmt.Println(path)
		return nil
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if settings.API.Secret != "" {
		settings.API.Secret = "********"
	}
	if settings.Telemetry.APIKey != "" {
		settings.Telemetry.APIKey = "********"
	}

	fmt.Println(paint(styleHint, "# "+path))
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(settings)
}
