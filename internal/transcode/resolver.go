package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jmylchreest/encodarr/internal/models"
)

// ProbeResolver resolves requests that carry a direct media path. Local files are
// probed; network sources are returned unprobed and marked as requiring opening, so the
// live stream opener probes them when the job acquires its input. Disc images are probed
// after mounting, by the encoder itself.
type ProbeResolver struct {
	prober MediaProber
	fs     billy.Filesystem
}

// NewProbeResolver creates a resolver backed by prober. fs defaults to the root filesystem.
func NewProbeResolver(prober MediaProber, fsys billy.Filesystem) *ProbeResolver {
	if fsys == nil {
		fsys = osfs.New("/")
	}
	return &ProbeResolver{prober: prober, fs: fsys}
}

// ResolveMediaSource implements MediaSourceResolver.
func (r *ProbeResolver) ResolveMediaSource(ctx context.Context, opts *models.EncodingJobOptions) (*models.MediaSourceInfo, error) {
	path := opts.MediaPath
	if path == "" {
		return nil, fmt.Errorf("item %q has no media path: %w", opts.ItemID, models.ErrMediaSourceNotFound)
	}

	protocol := models.ProtocolForPath(path)
	if protocol.IsNetwork() {
		return &models.MediaSourceInfo{
			ID:              opts.MediaSourceID,
			Path:            path,
			Protocol:        protocol,
			VideoType:       models.VideoTypeVideoFile,
			RequiresOpening: true,
			OpenToken:       path,
		}, nil
	}

	if _, err := r.fs.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, models.ErrMediaSourceNotFound)
		}
		return nil, fmt.Errorf("checking media path: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".iso") {
		return &models.MediaSourceInfo{
			ID:        opts.MediaSourceID,
			Path:      path,
			Protocol:  models.MediaProtocolFile,
			VideoType: models.VideoTypeIso,
		}, nil
	}

	src, err := r.prober.ProbeMediaSource(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}
	if opts.MediaSourceID != "" {
		src.ID = opts.MediaSourceID
	}
	return src, nil
}
