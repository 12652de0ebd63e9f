package models

import (
	"math"
	"strings"
	"time"
)

// TicksPerSecond is the number of 100ns ticks in one second.
const TicksPerSecond int64 = 10_000_000

// TicksToDuration converts 100ns ticks to a time.Duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100
}

// DurationToTicks converts a time.Duration to 100ns ticks.
func DurationToTicks(d time.Duration) int64 {
	return int64(d / 100)
}

// EncodingState is everything the command line is built from: the request snapshot,
// the selected input and its streams, and the output parameters derived from both.
// It is prepared by the job factory and resource acquisition, then read-only.
type EncodingState struct {
	Options     EncodingJobOptions `json:"options"`
	MediaSource *MediaSourceInfo   `json:"media_source"`

	IsVideoRequest bool          `json:"is_video_request"`
	MediaPath      string        `json:"media_path"`
	InputProtocol  MediaProtocol `json:"input_protocol"`
	IsInputVideo   bool          `json:"is_input_video"`
	VideoType      VideoType     `json:"video_type,omitempty"`
	IsoType        IsoType       `json:"iso_type,omitempty"`
	// MountedPath is set once a disc image has been mounted and replaces MediaPath
	// for input resolution.
	MountedPath             string            `json:"mounted_path,omitempty"`
	PlayableStreamFileNames []string          `json:"playable_stream_file_names,omitempty"`
	RemoteHTTPHeaders       map[string]string `json:"remote_http_headers,omitempty"`
	RunTimeTicks            *int64            `json:"run_time_ticks,omitempty"`
	LiveStreamID            string            `json:"live_stream_id,omitempty"`

	VideoStream                  *MediaStream `json:"video_stream,omitempty"`
	AudioStream                  *MediaStream `json:"audio_stream,omitempty"`
	SubtitleStream               *MediaStream `json:"subtitle_stream,omitempty"`
	InternalSubtitleStreamOffset int          `json:"internal_subtitle_stream_offset"`
	SubtitleCharset              string       `json:"subtitle_charset,omitempty"`

	OutputVideoCodec      string `json:"output_video_codec"`
	OutputAudioCodec      string `json:"output_audio_codec"`
	OutputVideoBitrate    *int   `json:"output_video_bitrate,omitempty"`
	OutputAudioBitrate    *int   `json:"output_audio_bitrate,omitempty"`
	OutputAudioChannels   *int   `json:"output_audio_channels,omitempty"`
	OutputAudioSampleRate *int   `json:"output_audio_sample_rate,omitempty"`
	OutputAudioSync       string `json:"output_audio_sync"`
	OutputVideoSync       string `json:"output_video_sync"`
	InputAudioSync        string `json:"input_audio_sync,omitempty"`
	InputVideoSync        string `json:"input_video_sync,omitempty"`

	DeInterlace                bool `json:"deinterlace"`
	ReadInputAtNativeFramerate bool `json:"read_input_at_native_framerate"`
	EnableMpegtsM2TsMode       bool `json:"enable_mpegts_m2ts_mode"`

	OutputFilePath string `json:"output_file_path"`
	SegmentLength  int    `json:"segment_length"`
}

// NewEncodingState returns a state with the default sync modes applied.
func NewEncodingState(opts EncodingJobOptions) *EncodingState {
	return &EncodingState{
		Options:                    opts,
		OutputAudioSync:            "1",
		OutputVideoSync:            "vfr",
		DeInterlace:                opts.DeInterlace,
		ReadInputAtNativeFramerate: opts.ReadInputAtNativeFramerate,
		EnableMpegtsM2TsMode:       opts.EnableMpegtsM2TsMode,
		RemoteHTTPHeaders:          map[string]string{},
	}
}

// InputPath returns the path the encoder should read: the mount point when the
// input was mounted, otherwise the media path.
func (s *EncodingState) InputPath() string {
	if s.MountedPath != "" {
		return s.MountedPath
	}
	return s.MediaPath
}

// HasTextSubtitle returns true when a text subtitle is selected for burn-in.
func (s *EncodingState) HasTextSubtitle() bool {
	return s.SubtitleStream != nil && s.SubtitleStream.IsTextSubtitleStream()
}

// HasGraphicalSubtitle returns true when a bitmap subtitle is selected for overlay.
func (s *EncodingState) HasGraphicalSubtitle() bool {
	return s.SubtitleStream != nil && !s.SubtitleStream.IsTextSubtitleStream()
}

// HasExternalGraphicalSubtitle returns true when the bitmap subtitle lives in a separate file.
func (s *EncodingState) HasExternalGraphicalSubtitle() bool {
	return s.HasGraphicalSubtitle() && s.SubtitleStream.IsExternal
}

// StartSeconds returns the seek offset rounded half-to-even to whole seconds.
func (s *EncodingState) StartSeconds() int64 {
	if s.Options.StartTimeTicks == nil {
		return 0
	}
	secs := float64(*s.Options.StartTimeTicks) / float64(TicksPerSecond)
	return int64(math.RoundToEven(secs))
}

// RemoteHeader looks up a required HTTP header case-insensitively.
func (s *EncodingState) RemoteHeader(name string) string {
	for k, v := range s.RemoteHTTPHeaders {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// IsVideoCopy returns true when the video bitstream is passed through.
func (s *EncodingState) IsVideoCopy() bool {
	return strings.EqualFold(s.OutputVideoCodec, "copy")
}

// IsAudioCopy returns true when the audio bitstream is passed through.
func (s *EncodingState) IsAudioCopy() bool {
	return strings.EqualFold(s.OutputAudioCodec, "copy")
}
