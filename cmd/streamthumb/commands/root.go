package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "streamthumb",
		Short: "streamthumb - Custom preview thumbnails for screen-share streams",
		Long: `streamthumb manages the preview thumbnail of an active screen-share
stream: upload a custom image or capture a live frame of the shared screen,
and streamthumb resizes it, publishes the change to local observers and
submits it to the remote preview endpoint, retrying when rate limited.

Features:
  • Upload a custom preview image for the active stream
  • Capture a live frame of the shared screen as the preview
  • Automatic retry on rate-limited submissions
  • Suppress the host's automatic preview refresh after a manual update
  • REST API and websocket feed for integration`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamthumb/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8090)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logging")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
