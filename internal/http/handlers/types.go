// Package handlers provides HTTP API handlers for encodarr.
package handlers

import (
	"strings"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

// Transcode types

// CreateTranscodeRequest is the request body for starting a transcode.
type CreateTranscodeRequest struct {
	Path            string `json:"path,omitempty" doc:"Media file path or URL; required unless item_id is set" maxLength:"4096"`
	ItemID          string `json:"item_id,omitempty" doc:"Library item id; required unless path is set" maxLength:"255"`
	MediaSourceID   string `json:"media_source_id,omitempty" maxLength:"255"`
	DeviceID        string `json:"device_id,omitempty" doc:"Device the transcode is reported against" maxLength:"255"`
	Kind            string `json:"kind,omitempty" doc:"Output layout" enum:"video,audio,hls" default:"video"`
	OutputContainer string `json:"output_container" doc:"Output container, e.g. mkv, mp4, ts, mp3" minLength:"1" maxLength:"16"`
	OutputDirectory string `json:"output_directory,omitempty" doc:"Directory for the output; defaults to the transcode directory"`

	VideoCodec       string `json:"video_codec,omitempty" doc:"Accepted video codecs, comma separated, preferred first"`
	AudioCodec       string `json:"audio_codec,omitempty" doc:"Accepted audio codecs, comma separated, preferred first"`
	VideoBitRate     *int   `json:"video_bit_rate,omitempty" minimum:"1"`
	AudioBitRate     *int   `json:"audio_bit_rate,omitempty" minimum:"1"`
	AudioChannels    *int   `json:"audio_channels,omitempty" minimum:"1" maximum:"8"`
	MaxAudioChannels *int   `json:"max_audio_channels,omitempty" minimum:"1" maximum:"8"`
	AudioSampleRate  *int   `json:"audio_sample_rate,omitempty" minimum:"1"`

	Width        *int     `json:"width,omitempty" minimum:"1"`
	Height       *int     `json:"height,omitempty" minimum:"1"`
	MaxWidth     *int     `json:"max_width,omitempty" minimum:"1"`
	MaxHeight    *int     `json:"max_height,omitempty" minimum:"1"`
	Framerate    *float64 `json:"framerate,omitempty"`
	MaxFramerate *float64 `json:"max_framerate,omitempty"`
	Profile      string   `json:"profile,omitempty" maxLength:"32"`
	Level        *float64 `json:"level,omitempty"`

	StartTimeTicks      *int64 `json:"start_time_ticks,omitempty" doc:"Seek offset in 100ns ticks" minimum:"0"`
	VideoStreamIndex    *int   `json:"video_stream_index,omitempty" minimum:"0"`
	AudioStreamIndex    *int   `json:"audio_stream_index,omitempty" minimum:"0"`
	SubtitleStreamIndex *int   `json:"subtitle_stream_index,omitempty" minimum:"0"`
	SubtitleMethod      string `json:"subtitle_method,omitempty" enum:"encode,embed,external,hls"`

	DeInterlace                bool `json:"deinterlace,omitempty"`
	ReadInputAtNativeFramerate bool `json:"read_input_at_native_framerate,omitempty"`
	EnableMpegtsM2TsMode       bool `json:"enable_mpegts_m2ts_mode,omitempty"`
	AllowVideoStreamCopy       bool `json:"allow_video_stream_copy,omitempty"`
	AllowAudioStreamCopy       bool `json:"allow_audio_stream_copy,omitempty"`
	CPUCoreLimit               *int `json:"cpu_core_limit,omitempty" minimum:"0"`
}

// Options converts the request to job options.
func (r *CreateTranscodeRequest) Options() models.EncodingJobOptions {
	return models.EncodingJobOptions{
		ItemID:                     strings.TrimSpace(r.ItemID),
		MediaSourceID:              r.MediaSourceID,
		MediaPath:                  strings.TrimSpace(r.Path),
		DeviceID:                   r.DeviceID,
		OutputContainer:            r.OutputContainer,
		OutputDirectory:            r.OutputDirectory,
		VideoCodec:                 r.VideoCodec,
		AudioCodec:                 r.AudioCodec,
		VideoBitRate:               r.VideoBitRate,
		AudioBitRate:               r.AudioBitRate,
		AudioChannels:              r.AudioChannels,
		MaxAudioChannels:           r.MaxAudioChannels,
		AudioSampleRate:            r.AudioSampleRate,
		Width:                      r.Width,
		Height:                     r.Height,
		MaxWidth:                   r.MaxWidth,
		MaxHeight:                  r.MaxHeight,
		Framerate:                  r.Framerate,
		MaxFramerate:               r.MaxFramerate,
		Profile:                    r.Profile,
		Level:                      r.Level,
		StartTimeTicks:             r.StartTimeTicks,
		VideoStreamIndex:           r.VideoStreamIndex,
		AudioStreamIndex:           r.AudioStreamIndex,
		SubtitleStreamIndex:        r.SubtitleStreamIndex,
		SubtitleMethod:             models.SubtitleDeliveryMethod(r.SubtitleMethod),
		DeInterlace:                r.DeInterlace,
		ReadInputAtNativeFramerate: r.ReadInputAtNativeFramerate,
		EnableMpegtsM2TsMode:       r.EnableMpegtsM2TsMode,
		AllowVideoStreamCopy:       r.AllowVideoStreamCopy,
		AllowAudioStreamCopy:       r.AllowAudioStreamCopy,
		CPUCoreLimit:               r.CPUCoreLimit,
	}
}

// TranscodeResponse represents a transcode job in API responses.
type TranscodeResponse = transcode.Snapshot

// Session types

// SessionResponse represents a device's transcoding record in API responses.
type SessionResponse = models.TranscodingInfo
