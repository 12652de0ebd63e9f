package transcode

import (
	"fmt"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/go-git/go-billy/v5/util"
)

// PlaylistInfo summarises the media playlist written by a segmented job.
type PlaylistInfo struct {
	Path           string        `json:"path"`
	SegmentCount   int           `json:"segment_count"`
	TotalDuration  time.Duration `json:"total_duration"`
	TargetDuration time.Duration `json:"target_duration"`
	Complete       bool          `json:"complete"`
	Segments       []string      `json:"segments"`
}

// ParsePlaylist parses an HLS media playlist.
func ParsePlaylist(data []byte) (*PlaylistInfo, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("expected media playlist, got multivariant")
	}

	info := &PlaylistInfo{
		TargetDuration: time.Duration(media.TargetDuration) * time.Second,
		Complete:       media.Endlist,
		Segments:       make([]string, 0, len(media.Segments)),
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		info.SegmentCount++
		info.TotalDuration += seg.Duration
		info.Segments = append(info.Segments, seg.URI)
	}
	return info, nil
}

// ReadPlaylist reads and parses the playlist of a segmented job. The encoder rewrites
// the playlist after every segment, so a running job reports the segments written so far.
func (s *Supervisor) ReadPlaylist(j *Job) (*PlaylistInfo, error) {
	if j.Kind != KindSegmented {
		return nil, ErrNotSegmented
	}
	data, err := util.ReadFile(s.fs, j.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	info, err := ParsePlaylist(data)
	if err != nil {
		return nil, err
	}
	info.Path = j.OutputPath
	return info, nil
}
