package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamthumb/internal/config"
	"streamthumb/internal/logger"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a live frame of the shared screen as the preview",
	Long: `Capture the configured screen region via X11 and use the frame as
the preview thumbnail of a screen-share stream.`,
	Example: `  streamthumb capture --user 456 --stream 123:456`,
	RunE:    runCapture,
}

func init() {
	captureCmd.Flags().String("user", "", "current user id (required)")
	captureCmd.Flags().String("stream", "", "stream key (required)")
	captureCmd.MarkFlagRequired("user")
	captureCmd.MarkFlagRequired("stream")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	rt, err := newRuntime(configMgr, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := seedSession(cmd, rt.Store); err != nil {
		return err
	}

	if err := rt.Updater.UpdateFromCapture(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("Preview updated from live frame")
	return nil
}
