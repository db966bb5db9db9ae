package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamthumb/internal/api"
	"streamthumb/internal/config"
	"streamthumb/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamthumb server",
	Long: `Start the streamthumb HTTP server.

The server provides a REST API for uploading or capturing stream preview
thumbnails, a websocket feed of preview changes, and Prometheus metrics.`,
	Example: `  # Start server on default port (8090)
  streamthumb serve

  # Start server on custom port
  streamthumb serve --port 9090

  # Start with specific config file
  streamthumb serve --config /path/to/config.yaml

  # Start with debug logging
  streamthumb serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if logLevel := viper.GetString("log_level"); logLevel != "" {
			configMgr.SetLogLevel(logLevel)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	rt, err := newRuntime(configMgr, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := api.NewServer(rt.Updater, rt.Store, rt.Hub, configMgr)

	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().
		Int("port", cfg.ServerPort).
		Msg("streamthumb is running, press Ctrl+C to stop")

	<-sigChan

	log.Info().Msg("Shutting down gracefully")
	return nil
}
