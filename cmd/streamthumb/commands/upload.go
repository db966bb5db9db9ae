package commands

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamthumb/internal/config"
	"streamthumb/internal/logger"
	"streamthumb/internal/session"
	"streamthumb/internal/thumbnail"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [image file]",
	Short: "Upload a custom preview thumbnail for the active stream",
	Long: `Upload an image file (JPEG or PNG) as the preview thumbnail of a
screen-share stream. The image is resized, published to local observers and
submitted to the remote preview endpoint.`,
	Example: `  # Upload a preview for a direct-call stream
  streamthumb upload --user 456 --stream 123:456 cover.png

  # Upload a preview for a guild stream
  streamthumb upload --user 9 --stream 1:2:9 cover.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().String("user", "", "current user id (required)")
	uploadCmd.Flags().String("stream", "", "stream key (required)")
	uploadCmd.MarkFlagRequired("user")
	uploadCmd.MarkFlagRequired("stream")
	rootCmd.AddCommand(uploadCmd)
}

// filePicker selects an image from a filesystem path. An empty path means
// the user cancelled the selection.
type filePicker struct {
	path string
}

func (p *filePicker) PickImage(ctx context.Context) (image.Image, bool, error) {
	if p.path == "" {
		return nil, false, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", p.path, err)
	}

	img, err := thumbnail.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return img, true, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	rt, err := newRuntime(configMgr, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := seedSession(cmd, rt.Store); err != nil {
		return err
	}

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	picker := &filePicker{path: path}

	img, ok, err := picker.PickImage(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		logger.WithComponent("upload").Info().Msg("No image selected, nothing to do")
		return nil
	}

	if err := rt.Updater.UpdateFromImage(cmd.Context(), img); err != nil {
		return err
	}

	fmt.Println("Preview updated")
	return nil
}

// seedSession records the user and stream given on the command line
func seedSession(cmd *cobra.Command, store *session.Store) error {
	userID, _ := cmd.Flags().GetString("user")
	streamKey, _ := cmd.Flags().GetString("stream")

	store.SetCurrentUser(session.User{ID: userID})
	if err := store.SetActiveStreamKey(streamKey); err != nil {
		return err
	}
	return nil
}
