package preview

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"streamthumb/internal/metrics"
	"streamthumb/internal/remote"
	"streamthumb/internal/session"
	"streamthumb/internal/thumbnail"
)

type publishRecord struct {
	streamKey string
	thumbnail string
}

type fakePublisher struct {
	mu      sync.Mutex
	records []publishRecord
}

func (p *fakePublisher) PublishPreview(streamKey, thumbnailURL string) {
	p.mu.Lock()
	p.records = append(p.records, publishRecord{streamKey: streamKey, thumbnail: thumbnailURL})
	p.mu.Unlock()
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type submitCall struct {
	streamKey string
	thumbnail string
	at        time.Time
}

// fakeSubmitter returns scripted errors in order, then nil
type fakeSubmitter struct {
	mu      sync.Mutex
	scripts []error
	calls   []submitCall

	// onSubmit runs inside SubmitThumbnail, before recording
	onSubmit func()
}

func (s *fakeSubmitter) SubmitThumbnail(ctx context.Context, streamKey, thumbnail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onSubmit != nil {
		s.onSubmit()
	}

	s.calls = append(s.calls, submitCall{streamKey: streamKey, thumbnail: thumbnail, at: time.Now()})

	if len(s.scripts) == 0 {
		return nil
	}
	err := s.scripts[0]
	s.scripts = s.scripts[1:]
	return err
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSubmitter) call(i int) submitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

type fakeSettings struct {
	mu       sync.Mutex
	disabled bool
	sets     int
}

func (f *fakeSettings) GetDisableAutoPreviews() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled
}

func (f *fakeSettings) SetDisableAutoPreviews(disabled bool) error {
	f.mu.Lock()
	f.disabled = disabled
	f.sets++
	f.mu.Unlock()
	return nil
}

type fixture struct {
	store     *session.Store
	publisher *fakePublisher
	submitter *fakeSubmitter
	settings  *fakeSettings
	updater   *Updater
}

func newFixture(t *testing.T, scripts ...error) *fixture {
	t.Helper()

	store := session.NewStore()
	store.SetCurrentUser(session.User{ID: "456", Username: "streamer"})
	store.SetActiveStream(session.Stream{ChannelID: "123", OwnerID: "456"})

	publisher := &fakePublisher{}
	submitter := &fakeSubmitter{scripts: scripts}
	settings := &fakeSettings{}

	updater, err := NewUpdater(Options{
		Users:     store,
		Streams:   store,
		Recorder:  store,
		Publisher: publisher,
		Submitter: submitter,
		Settings:  settings,
		Builder:   thumbnail.NewBuilder(90),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("NewUpdater failed: %v", err)
	}

	return &fixture{
		store:     store,
		publisher: publisher,
		submitter: submitter,
		settings:  settings,
		updater:   updater,
	}
}

func testImage(size int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, size, size))
}

func TestUpdatePublishesBeforeSubmit(t *testing.T) {
	fx := newFixture(t)

	published := false
	fx.submitter.onSubmit = func() {
		published = fx.publisher.count() > 0
	}

	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("UpdateFromImage failed: %v", err)
	}

	if !published {
		t.Error("remote submit ran before the local publish")
	}
	if fx.publisher.count() != 1 {
		t.Errorf("publish count = %d, want 1", fx.publisher.count())
	}
	if got := fx.publisher.records[0].streamKey; got != "123:456" {
		t.Errorf("published stream key = %q, want %q", got, "123:456")
	}
}

func TestUpdateLatchesAutoPreviewSuppression(t *testing.T) {
	fx := newFixture(t)

	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("UpdateFromImage failed: %v", err)
	}
	if !fx.settings.GetDisableAutoPreviews() {
		t.Error("successful update did not disable automatic previews")
	}

	// Already latched: a second update must not write the setting again
	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("second UpdateFromImage failed: %v", err)
	}
	fx.settings.mu.Lock()
	sets := fx.settings.sets
	fx.settings.mu.Unlock()
	if sets != 1 {
		t.Errorf("setting writes = %d, want 1", sets)
	}
}

func TestUpdateWithoutSession(t *testing.T) {
	fx := newFixture(t)

	fx.store.ClearActiveStream()
	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); !errors.Is(err, ErrNoActiveStream) {
		t.Errorf("expected ErrNoActiveStream, got %v", err)
	}

	store := session.NewStore()
	updater := fx.updater
	updater.users = store
	updater.streams = store
	if err := updater.UpdateFromImage(context.Background(), testImage(64)); !errors.Is(err, ErrNoCurrentUser) {
		t.Errorf("expected ErrNoCurrentUser, got %v", err)
	}
}

func TestRenderFailureAbortsUpdate(t *testing.T) {
	fx := newFixture(t)

	var renderErr *thumbnail.RenderError
	if err := fx.updater.UpdateFromImage(context.Background(), nil); !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}

	if fx.publisher.count() != 0 {
		t.Error("render failure must not publish locally")
	}
	if fx.submitter.callCount() != 0 {
		t.Error("render failure must not submit remotely")
	}
	if fx.settings.GetDisableAutoPreviews() {
		t.Error("render failure must not latch the setting")
	}
}

func TestNonRateLimitFailurePropagates(t *testing.T) {
	fx := newFixture(t, &remote.StatusError{Status: 500})

	err := fx.updater.UpdateFromImage(context.Background(), testImage(64))
	var submitErr *RemoteSubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expected RemoteSubmitError, got %v", err)
	}

	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 500 {
		t.Errorf("expected wrapped StatusError 500, got %v", err)
	}

	if fx.updater.HasPendingRetry() {
		t.Error("non-429 failure must not schedule a retry")
	}
	if fx.settings.GetDisableAutoPreviews() {
		t.Error("failed update must not latch the setting")
	}
	if fx.publisher.count() != 1 {
		t.Error("optimistic publish still happens before the failure is known")
	}
}

func TestRateLimitSchedulesExactlyOneRetry(t *testing.T) {
	const delay = 40 * time.Millisecond
	fx := newFixture(t, &remote.RateLimitError{RetryAfter: delay})

	start := time.Now()
	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("rate-limited update surfaced an error: %v", err)
	}

	if fx.submitter.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1 before the retry fires", fx.submitter.callCount())
	}
	if !fx.updater.HasPendingRetry() {
		t.Fatal("expected a pending retry after 429")
	}

	// The 429-recovered update still reads as a success and latches
	if !fx.settings.GetDisableAutoPreviews() {
		t.Error("rate-limited update should still latch the setting")
	}

	deadline := time.Now().Add(10 * delay)
	for fx.submitter.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fx.submitter.callCount() != 2 {
		t.Fatalf("submit calls = %d, want 2 after retry", fx.submitter.callCount())
	}

	first, second := fx.submitter.call(0), fx.submitter.call(1)
	if second.at.Sub(start) < delay {
		t.Errorf("retry fired after %s, want no earlier than %s", second.at.Sub(start), delay)
	}
	if second.streamKey != first.streamKey || second.thumbnail != first.thumbnail {
		t.Error("retry payload differs from the original submission")
	}

	if fx.updater.HasPendingRetry() {
		t.Error("successful retry must clear the pending slot")
	}

	// No further submissions
	time.Sleep(2 * delay)
	if fx.submitter.callCount() != 2 {
		t.Errorf("submit calls = %d after settling, want 2", fx.submitter.callCount())
	}
}

func TestNewerRetrySupersedesOlder(t *testing.T) {
	const delay = 50 * time.Millisecond
	fx := newFixture(t,
		&remote.RateLimitError{RetryAfter: delay},
		&remote.RateLimitError{RetryAfter: delay},
	)

	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	// Different dimensions, different payload
	if err := fx.updater.UpdateFromImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 128, 64))); err != nil {
		t.Fatalf("second update failed: %v", err)
	}

	if fx.submitter.callCount() != 2 {
		t.Fatalf("submit calls = %d, want 2 before any retry", fx.submitter.callCount())
	}

	deadline := time.Now().Add(10 * delay)
	for fx.submitter.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fx.submitter.callCount() != 3 {
		t.Fatalf("submit calls = %d, want exactly 3 (one surviving retry)", fx.submitter.callCount())
	}

	newest := fx.submitter.call(1).thumbnail
	if got := fx.submitter.call(2).thumbnail; got != newest {
		t.Error("surviving retry does not carry the newest payload")
	}

	// The superseded retry never fires
	time.Sleep(2 * delay)
	if fx.submitter.callCount() != 3 {
		t.Errorf("submit calls = %d after settling, want 3", fx.submitter.callCount())
	}
}

func TestSessionEndCancelsPendingRetry(t *testing.T) {
	const delay = 40 * time.Millisecond
	fx := newFixture(t, &remote.RateLimitError{RetryAfter: delay})

	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !fx.updater.HasPendingRetry() {
		t.Fatal("expected a pending retry")
	}

	fx.updater.HandleConnectionUpdate(session.ConnectionEvent{
		Context: session.ContextStream,
		UserID:  "456",
	})

	if fx.updater.HasPendingRetry() {
		t.Error("session end must cancel the pending retry")
	}
	if _, ok := fx.store.ActiveStream(); ok {
		t.Error("session end must clear the active stream")
	}

	time.Sleep(2 * delay)
	if fx.submitter.callCount() != 1 {
		t.Errorf("submit calls = %d, the deferred submit must never fire", fx.submitter.callCount())
	}
}

func TestConnectionUpdateRecordsStream(t *testing.T) {
	fx := newFixture(t)
	fx.store.ClearActiveStream()

	fx.updater.HandleConnectionUpdate(session.ConnectionEvent{
		Context:   session.ContextStream,
		UserID:    "456",
		StreamKey: "99:456",
	})

	stream, ok := fx.store.ActiveStream()
	if !ok {
		t.Fatal("active stream was not recorded")
	}
	if stream.Key() != "99:456" {
		t.Errorf("recorded key = %q, want %q", stream.Key(), "99:456")
	}
}

func TestConnectionUpdateIgnoresOtherUsersAndContexts(t *testing.T) {
	const delay = 60 * time.Millisecond
	fx := newFixture(t, &remote.RateLimitError{RetryAfter: delay})

	if err := fx.updater.UpdateFromImage(context.Background(), testImage(64)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	fx.updater.HandleConnectionUpdate(session.ConnectionEvent{Context: "voice", UserID: "456"})
	fx.updater.HandleConnectionUpdate(session.ConnectionEvent{Context: session.ContextStream, UserID: "999"})

	if !fx.updater.HasPendingRetry() {
		t.Error("events for other users or contexts must not cancel the retry")
	}
	if _, ok := fx.store.ActiveStream(); !ok {
		t.Error("events for other users or contexts must not clear the stream")
	}

	fx.updater.CancelPendingRetry()
}

func TestCancelPendingRetryIsIdempotent(t *testing.T) {
	fx := newFixture(t)

	fx.updater.CancelPendingRetry()
	fx.updater.CancelPendingRetry()

	if fx.updater.HasPendingRetry() {
		t.Error("no retry should be pending")
	}
}

type fakePicker struct {
	img image.Image
	ok  bool
	err error
}

func (p *fakePicker) PickImage(ctx context.Context) (image.Image, bool, error) {
	return p.img, p.ok, p.err
}

func TestUpdateFromPickerCancelledIsSilent(t *testing.T) {
	fx := newFixture(t)
	fx.updater.picker = &fakePicker{ok: false}

	if err := fx.updater.UpdateFromPicker(context.Background()); err != nil {
		t.Fatalf("cancelled selection must not error, got %v", err)
	}
	if fx.publisher.count() != 0 || fx.submitter.callCount() != 0 {
		t.Error("cancelled selection must not attempt an update")
	}
}

func TestUpdateFromPicker(t *testing.T) {
	fx := newFixture(t)
	fx.updater.picker = &fakePicker{img: testImage(64), ok: true}

	if err := fx.updater.UpdateFromPicker(context.Background()); err != nil {
		t.Fatalf("UpdateFromPicker failed: %v", err)
	}
	if fx.submitter.callCount() != 1 {
		t.Errorf("submit calls = %d, want 1", fx.submitter.callCount())
	}
}

type fakeCapturer struct {
	img image.Image
	err error
}

func (c *fakeCapturer) CaptureFrame(ctx context.Context) (image.Image, error) {
	return c.img, c.err
}

func TestUpdateFromCapture(t *testing.T) {
	fx := newFixture(t)
	fx.updater.capturer = &fakeCapturer{img: testImage(64)}

	if err := fx.updater.UpdateFromCapture(context.Background()); err != nil {
		t.Fatalf("UpdateFromCapture failed: %v", err)
	}
	if fx.submitter.callCount() != 1 {
		t.Errorf("submit calls = %d, want 1", fx.submitter.callCount())
	}

	fx2 := newFixture(t)
	fx2.updater.capturer = &fakeCapturer{err: errors.New("no frames")}
	if err := fx2.updater.UpdateFromCapture(context.Background()); err == nil {
		t.Error("capture failure must propagate")
	}
}
