// Package transcode launches and supervises encoder processes: resource acquisition,
// process start and exit handling, log streaming, progress reporting and cancellation.
package transcode

import (
	"context"

	"github.com/jmylchreest/encodarr/internal/models"
)

// MediaSourceResolver resolves the media source a request refers to.
type MediaSourceResolver interface {
	ResolveMediaSource(ctx context.Context, opts *models.EncodingJobOptions) (*models.MediaSourceInfo, error)
}

// MediaProber probes stream metadata for a path or URL.
type MediaProber interface {
	ProbeMediaSource(ctx context.Context, input string) (*models.MediaSourceInfo, error)
}

// SessionRegistry tracks which devices have a transcode in progress.
type SessionRegistry interface {
	ReportTranscodingProgress(ctx context.Context, info *models.TranscodingInfo) error
	ClearTranscodingInfo(ctx context.Context, deviceID string) error
}

// MountedImage is a disc image mounted for reading.
type MountedImage interface {
	Path() string
	// IsoType and PlayableStreamFileNames describe the disc structure found under Path.
	IsoType() models.IsoType
	PlayableStreamFileNames() []string
	Close() error
}

// IsoMounter mounts disc images.
type IsoMounter interface {
	CanMount(path string) bool
	Mount(ctx context.Context, path string) (MountedImage, error)
}

// LiveStream is an opened live source.
type LiveStream interface {
	ID() string
	MediaSource() *models.MediaSourceInfo
	Close() error
}

// LiveStreamOpener opens live sources that need an explicit open step.
type LiveStreamOpener interface {
	OpenLiveStream(ctx context.Context, openToken string) (LiveStream, error)
}

// SubtitleService supplies the character set of external subtitle files.
type SubtitleService interface {
	CharacterSet(ctx context.Context, path string, protocol models.MediaProtocol, language string) (string, error)
}

// ProgressReporter receives the completion percentage of a job with a known runtime.
type ProgressReporter func(percent float64)
