package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamthumb/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change streamthumb settings",
	RunE:  runShowSettings,
}

var autoPreviewsCmd = &cobra.Command{
	Use:   "auto-previews [on|off]",
	Short: "Show or set automatic preview refresh suppression",
	Long: `Without an argument, shows whether the host's automatic preview
refresh is suppressed. With "on" or "off", sets the flag. Note that a manual
preview update always switches suppression on.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAutoPreviews,
}

func init() {
	settingsCmd.AddCommand(autoPreviewsCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runShowSettings(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	fmt.Printf("Config file:           %s\n", configMgr.GetConfigPath())
	fmt.Printf("Server port:           %d\n", cfg.ServerPort)
	fmt.Printf("Log level:             %s\n", cfg.LogLevel)
	fmt.Printf("Remote endpoint:       %s\n", cfg.Remote.BaseURL)
	fmt.Printf("JPEG quality:          %d\n", cfg.JPEGQuality)
	fmt.Printf("Capture region:        %dx%d+%d+%d\n", cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.X, cfg.Capture.Y)
	fmt.Printf("Auto previews off:     %v\n", cfg.DisableAutoPreviews)
	return nil
}

func runAutoPreviews(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if len(args) == 0 {
		if configMgr.GetDisableAutoPreviews() {
			fmt.Println("Automatic preview refresh is suppressed")
		} else {
			fmt.Println("Automatic preview refresh is active")
		}
		return nil
	}

	switch args[0] {
	case "on":
		return configMgr.SetDisableAutoPreviews(true)
	case "off":
		return configMgr.SetDisableAutoPreviews(false)
	default:
		return fmt.Errorf("expected \"on\" or \"off\", got %q", args[0])
	}
}
