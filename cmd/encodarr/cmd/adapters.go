package cmd

import (
	"context"

	"github.com/jmylchreest/encodarr/internal/iso"
	"github.com/jmylchreest/encodarr/internal/livetv"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

// isoMounter exposes an iso.Manager as a transcode.IsoMounter.
type isoMounter struct {
	manager *iso.Manager
}

func (m isoMounter) CanMount(path string) bool {
	return m.manager.CanMount(path)
}

func (m isoMounter) Mount(ctx context.Context, path string) (transcode.MountedImage, error) {
	mount, err := m.manager.Mount(ctx, path)
	if err != nil {
		// A nil *iso.Mount must not become a non-nil interface.
		return nil, err
	}
	return mount, nil
}

// liveStreamOpener exposes a livetv.Opener as a transcode.LiveStreamOpener.
type liveStreamOpener struct {
	opener *livetv.Opener
}

func (o liveStreamOpener) OpenLiveStream(ctx context.Context, openToken string) (transcode.LiveStream, error) {
	stream, err := o.opener.Open(ctx, openToken)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
