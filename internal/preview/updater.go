package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"streamthumb/internal/logger"
	"streamthumb/internal/metrics"
	"streamthumb/internal/remote"
	"streamthumb/internal/session"
	"streamthumb/internal/thumbnail"
)

// CurrentUserLookup resolves the local account
type CurrentUserLookup interface {
	CurrentUser() (session.User, bool)
}

// ActiveStreamLookup resolves the current user's active screen-share stream
type ActiveStreamLookup interface {
	ActiveStream() (session.Stream, bool)
}

// StreamRecorder records stream lifecycle changes from connection events
type StreamRecorder interface {
	SetActiveStreamKey(key string) error
	ClearActiveStream()
}

// Publisher notifies local observers that a stream's preview changed
type Publisher interface {
	PublishPreview(streamKey, thumbnailURL string)
}

// Submitter submits an encoded thumbnail for a stream key to the remote endpoint
type Submitter interface {
	SubmitThumbnail(ctx context.Context, streamKey, thumbnail string) error
}

// SettingToggle reads and writes the persisted auto-preview suppression flag
type SettingToggle interface {
	GetDisableAutoPreviews() bool
	SetDisableAutoPreviews(disabled bool) error
}

// ImagePicker returns a user-selected image, or ok=false if the selection
// was cancelled
type ImagePicker interface {
	PickImage(ctx context.Context) (image.Image, bool, error)
}

// FrameCapturer returns the next decoded frame of the shared screen
type FrameCapturer interface {
	CaptureFrame(ctx context.Context) (image.Image, error)
}

// Options wires the updater's collaborators
type Options struct {
	Users     CurrentUserLookup
	Streams   ActiveStreamLookup
	Recorder  StreamRecorder
	Publisher Publisher
	Submitter Submitter
	Settings  SettingToggle
	Picker    ImagePicker
	Capturer  FrameCapturer
	Builder   *thumbnail.Builder
	Metrics   *metrics.Metrics
}

// pendingRetry is the single retry slot: the scheduled timer plus the
// deferred (streamKey, thumbnail) payload
type pendingRetry struct {
	timer     *time.Timer
	streamKey string
	thumbnail string
}

// Updater produces stream preview thumbnails, publishes them locally and
// submits them remotely, retrying rate-limited submissions with at most one
// outstanding retry at a time.
type Updater struct {
	users     CurrentUserLookup
	streams   ActiveStreamLookup
	recorder  StreamRecorder
	publisher Publisher
	submitter Submitter
	settings  SettingToggle
	picker    ImagePicker
	capturer  FrameCapturer
	builder   *thumbnail.Builder
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending *pendingRetry
}

// NewUpdater creates a preview updater from its collaborators
func NewUpdater(opts Options) (*Updater, error) {
	switch {
	case opts.Users == nil:
		return nil, fmt.Errorf("current user lookup is required")
	case opts.Streams == nil:
		return nil, fmt.Errorf("active stream lookup is required")
	case opts.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	case opts.Submitter == nil:
		return nil, fmt.Errorf("submitter is required")
	case opts.Settings == nil:
		return nil, fmt.Errorf("setting toggle is required")
	case opts.Metrics == nil:
		return nil, fmt.Errorf("metrics are required")
	}

	builder := opts.Builder
	if builder == nil {
		builder = thumbnail.NewBuilder(90)
	}

	return &Updater{
		users:     opts.Users,
		streams:   opts.Streams,
		recorder:  opts.Recorder,
		publisher: opts.Publisher,
		submitter: opts.Submitter,
		settings:  opts.Settings,
		picker:    opts.Picker,
		capturer:  opts.Capturer,
		builder:   builder,
		metrics:   opts.Metrics,
	}, nil
}

// UpdateFromImage builds a thumbnail from the source image, publishes it to
// local observers, then submits it for the current user's active stream.
// The local publish always happens before the remote result is known.
func (u *Updater) UpdateFromImage(ctx context.Context, img image.Image) error {
	log := logger.WithComponent("preview")

	user, ok := u.users.CurrentUser()
	if !ok {
		return ErrNoCurrentUser
	}
	stream, ok := u.streams.ActiveStream()
	if !ok || stream.OwnerID != user.ID {
		return ErrNoActiveStream
	}

	start := time.Now()
	thumb, err := u.builder.Build(img)
	if err != nil {
		u.metrics.BuildErrors.Inc()
		return err
	}
	u.metrics.ThumbnailsBuilt.Inc()
	u.metrics.BuildDuration.Observe(time.Since(start).Seconds())

	key := stream.Key()

	// Optimistic update: observers see the new preview regardless of what
	// the remote endpoint decides.
	u.publisher.PublishPreview(key, thumb)

	if err := u.submit(ctx, key, thumb); err != nil {
		return err
	}

	u.latchAutoPreviews()

	log.Info().
		Str("stream_key", key).
		Msg("Preview updated")
	return nil
}

// UpdateFromPicker runs a full update with a user-selected image. A
// cancelled selection aborts silently.
func (u *Updater) UpdateFromPicker(ctx context.Context) error {
	if u.picker == nil {
		return fmt.Errorf("no image picker configured")
	}

	img, ok, err := u.picker.PickImage(ctx)
	if err != nil {
		return fmt.Errorf("image selection failed: %w", err)
	}
	if !ok {
		logger.WithComponent("preview").Debug().Msg("Image selection cancelled")
		return nil
	}
	return u.UpdateFromImage(ctx, img)
}

// UpdateFromCapture runs a full update with a live frame of the shared screen
func (u *Updater) UpdateFromCapture(ctx context.Context) error {
	if u.capturer == nil {
		return fmt.Errorf("no frame capturer configured")
	}

	img, err := u.capturer.CaptureFrame(ctx)
	if err != nil {
		return fmt.Errorf("frame capture failed: %w", err)
	}
	return u.UpdateFromImage(ctx, img)
}

// submit sends the thumbnail to the remote endpoint. A 429 response
// schedules a single retry and is not surfaced to the caller; any other
// failure is returned as *RemoteSubmitError.
func (u *Updater) submit(ctx context.Context, streamKey, thumb string) error {
	u.metrics.SubmitsAttempted.Inc()
	start := time.Now()

	err := u.submitter.SubmitThumbnail(ctx, streamKey, thumb)
	u.metrics.SubmitDuration.Observe(time.Since(start).Seconds())

	var rl *remote.RateLimitError
	if errors.As(err, &rl) {
		u.metrics.SubmitsRateLimited.Inc()
		u.scheduleRetry(streamKey, thumb, rl.RetryAfter)
		return nil
	}
	if err != nil {
		u.metrics.SubmitsFailed.Inc()
		return &RemoteSubmitError{StreamKey: streamKey, Err: err}
	}

	u.metrics.SubmitsSucceeded.Inc()
	return nil
}

// scheduleRetry replaces any pending retry with a new one for the given
// payload. There is never more than one retry in flight.
func (u *Updater) scheduleRetry(streamKey, thumb string, delay time.Duration) {
	u.mu.Lock()
	u.cancelLocked()

	state := &pendingRetry{streamKey: streamKey, thumbnail: thumb}
	state.timer = time.AfterFunc(delay, func() { u.runRetry(state) })
	u.pending = state

	u.metrics.RetriesScheduled.Inc()
	u.metrics.PendingRetry.Set(1)
	u.mu.Unlock()

	logger.WithComponent("preview").Info().
		Str("stream_key", streamKey).
		Dur("delay", delay).
		Msg("Retry scheduled after rate limit")
}

// runRetry executes a deferred submit unless the retry was superseded or
// cancelled after the timer fired.
func (u *Updater) runRetry(state *pendingRetry) {
	u.mu.Lock()
	if u.pending != state {
		u.mu.Unlock()
		return
	}
	u.pending = nil
	u.metrics.PendingRetry.Set(0)
	u.mu.Unlock()

	if err := u.submit(context.Background(), state.streamKey, state.thumbnail); err != nil {
		logger.WithComponent("preview").Error().
			Err(err).
			Str("stream_key", state.streamKey).
			Msg("Deferred thumbnail submit failed")
	}
}

// CancelPendingRetry cancels the pending retry, if any. Safe to call when
// no retry is scheduled.
func (u *Updater) CancelPendingRetry() {
	u.mu.Lock()
	u.cancelLocked()
	u.mu.Unlock()
}

// HasPendingRetry reports whether a retry is currently scheduled
func (u *Updater) HasPendingRetry() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pending != nil
}

func (u *Updater) cancelLocked() {
	if u.pending == nil {
		return
	}
	u.pending.timer.Stop()
	u.pending = nil
	u.metrics.RetriesCancelled.Inc()
	u.metrics.PendingRetry.Set(0)
}

// latchAutoPreviews disables the host's automatic preview refresh after a
// manual update. One-way: nothing in this flow re-enables it.
func (u *Updater) latchAutoPreviews() {
	if u.settings.GetDisableAutoPreviews() {
		return
	}
	if err := u.settings.SetDisableAutoPreviews(true); err != nil {
		logger.WithComponent("preview").Warn().
			Err(err).
			Msg("Failed to persist auto-preview suppression")
	}
}

// HandleConnectionUpdate applies a host connection-state event. Events about
// the current user's own stream context record the active stream id; a
// cleared id ends the session and cancels any pending retry.
func (u *Updater) HandleConnectionUpdate(ev session.ConnectionEvent) {
	if ev.Context != session.ContextStream {
		return
	}
	user, ok := u.users.CurrentUser()
	if !ok || ev.UserID != user.ID {
		return
	}

	if ev.Active() {
		if u.recorder != nil {
			if err := u.recorder.SetActiveStreamKey(ev.StreamKey); err != nil {
				logger.WithComponent("preview").Warn().
					Err(err).
					Str("stream_key", ev.StreamKey).
					Msg("Ignoring connection event with malformed stream key")
			}
		}
		return
	}

	if u.recorder != nil {
		u.recorder.ClearActiveStream()
	}
	u.CancelPendingRetry()
}
