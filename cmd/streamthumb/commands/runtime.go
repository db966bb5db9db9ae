package commands

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"streamthumb/internal/capture"
	"streamthumb/internal/config"
	"streamthumb/internal/dispatch"
	"streamthumb/internal/logger"
	"streamthumb/internal/metrics"
	"streamthumb/internal/preview"
	"streamthumb/internal/remote"
	"streamthumb/internal/session"
	"streamthumb/internal/thumbnail"
)

// runtime holds the wired components shared by serve and the one-shot commands
type runtime struct {
	Store   *session.Store
	Hub     *dispatch.Hub
	Updater *preview.Updater

	frameSource capture.FrameSource
}

// newRuntime wires the preview updater and its collaborators from config.
// withCapture controls whether an X11 frame source is attached; commands
// that never capture skip the X server connection.
func newRuntime(configMgr *config.Manager, withCapture bool) (*runtime, error) {
	remoteCfg := configMgr.GetRemote()
	client, err := remote.NewClient(remote.Config{
		BaseURL: remoteCfg.BaseURL,
		Timeout: time.Duration(remoteCfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	store := session.NewStore()
	hub := dispatch.NewHub()

	var frameSource capture.FrameSource
	if withCapture {
		src, err := capture.NewX11Source(configMgr.GetCaptureRegion())
		if err != nil {
			logger.WithComponent("serve").Warn().
				Err(err).
				Msg("X11 frame capture unavailable, capture endpoint disabled")
		} else {
			frameSource = src
		}
	}

	opts := preview.Options{
		Users:     store,
		Streams:   store,
		Recorder:  store,
		Publisher: hub,
		Submitter: client,
		Settings:  configMgr,
		Builder:   thumbnail.NewBuilder(configMgr.GetJPEGQuality()),
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
	}
	if frameSource != nil {
		opts.Capturer = frameSource
	}

	updater, err := preview.NewUpdater(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview updater: %w", err)
	}

	return &runtime{
		Store:       store,
		Hub:         hub,
		Updater:     updater,
		frameSource: frameSource,
	}, nil
}

// Close cancels any pending retry and releases capture resources
func (rt *runtime) Close() {
	rt.Updater.CancelPendingRetry()
	if rt.frameSource != nil {
		rt.frameSource.Close()
	}
}
