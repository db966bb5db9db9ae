package capture

import (
	"context"
	"image"
)

// FrameSource produces decoded frames of the shared screen for thumbnail
// capture
type FrameSource interface {
	// CaptureFrame returns the next frame of the shared screen
	CaptureFrame(ctx context.Context) (image.Image, error)

	// Name returns a human-readable name for this source
	Name() string

	// IsAvailable checks if this source can be used in the current environment
	IsAvailable() bool

	// Close releases any resources held by the source
	Close() error
}
