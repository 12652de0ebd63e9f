package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jmylchreest/encodarr/internal/models"
)

// Resources are the input resources a job holds for its lifetime.
type Resources struct {
	Mount      MountedImage
	LiveStream LiveStream

	closeOnce sync.Once
	closeErr  error
}

// Close releases every held resource. Errors are aggregated; it is safe to call more than once.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		var result *multierror.Error
		if r.LiveStream != nil {
			if err := r.LiveStream.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("closing live stream %s: %w", r.LiveStream.ID(), err))
			}
		}
		if r.Mount != nil {
			if err := r.Mount.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("unmounting %s: %w", r.Mount.Path(), err))
			}
		}
		r.closeErr = result.ErrorOrNil()
	})
	return r.closeErr
}

// Acquirer prepares the input of a job before its process starts: it mounts disc
// images, opens live sources and waits out any buffering delay.
type Acquirer struct {
	iso    IsoMounter
	live   LiveStreamOpener
	logger *slog.Logger
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithIsoMounter sets the disc image mounter.
func WithIsoMounter(m IsoMounter) AcquirerOption {
	return func(a *Acquirer) { a.iso = m }
}

// WithLiveStreamOpener sets the live source opener.
func WithLiveStreamOpener(o LiveStreamOpener) AcquirerOption {
	return func(a *Acquirer) { a.live = o }
}

// WithAcquirerLogger sets the logger.
func WithAcquirerLogger(l *slog.Logger) AcquirerOption {
	return func(a *Acquirer) { a.logger = l }
}

// NewAcquirer creates an acquirer. Without a mounter images are read unmounted; without
// an opener sources that require opening fail to acquire.
func NewAcquirer(opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire runs the acquisition steps in order, updating s as it goes. On failure
// anything acquired so far is released and no resources are returned.
func (a *Acquirer) Acquire(ctx context.Context, s *models.EncodingState) (*Resources, error) {
	res := &Resources{}
	fail := func(err error) (*Resources, error) {
		if cerr := res.Close(); cerr != nil {
			a.logger.Warn("releasing partially acquired resources", slog.String("error", cerr.Error()))
		}
		return nil, &AcquireError{Err: err}
	}

	if s.VideoType == models.VideoTypeIso && a.iso != nil && a.iso.CanMount(s.MediaPath) {
		mount, err := a.iso.Mount(ctx, s.MediaPath)
		if err != nil {
			return fail(fmt.Errorf("mounting %s: %w", s.MediaPath, err))
		}
		res.Mount = mount
		s.MountedPath = mount.Path()
		if t := mount.IsoType(); t != "" {
			s.IsoType = t
		}
		if names := mount.PlayableStreamFileNames(); len(names) > 0 {
			s.PlayableStreamFileNames = names
			s.IsInputVideo = true
		}
		a.logger.Debug("mounted disc image",
			slog.String("image", s.MediaPath),
			slog.String("mount", s.MountedPath),
			slog.String("iso_type", string(s.IsoType)))
	}

	if src := s.MediaSource; src != nil && src.RequiresOpening && s.LiveStreamID == "" {
		if a.live == nil {
			return fail(errors.New("source requires opening but no live stream opener is configured"))
		}
		stream, err := a.live.OpenLiveStream(ctx, src.OpenToken)
		if err != nil {
			return fail(fmt.Errorf("opening live stream: %w", err))
		}
		res.LiveStream = stream
		s.LiveStreamID = stream.ID()

		AttachMediaSource(s, stream.MediaSource())
		if s.IsVideoRequest {
			TryStreamCopy(s)
		}
		a.logger.Debug("opened live stream",
			slog.String("live_stream_id", s.LiveStreamID),
			slog.String("video_codec", s.OutputVideoCodec),
			slog.String("audio_codec", s.OutputAudioCodec))
	}

	if src := s.MediaSource; src != nil && src.BufferMs != nil && *src.BufferMs > 0 {
		delay := time.Duration(*src.BufferMs) * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fail(ctx.Err())
		}
	}

	return res, nil
}
