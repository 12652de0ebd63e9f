package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// EncodingJobOptions is the negotiated playback request a transcode is started from.
type EncodingJobOptions struct {
	ItemID        string `json:"item_id,omitempty" validate:"required_without=MediaPath"`
	MediaSourceID string `json:"media_source_id,omitempty"`
	MediaPath     string `json:"media_path,omitempty" validate:"required_without=ItemID"`
	DeviceID      string `json:"device_id,omitempty" validate:"omitempty,max=255"`

	OutputContainer string `json:"output_container" validate:"required,alphanum,max=16"`
	OutputDirectory string `json:"output_directory,omitempty"`

	// VideoCodec and AudioCodec may list several acceptable codecs separated by commas;
	// the first one is used when transcoding.
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`

	VideoBitRate     *int `json:"video_bit_rate,omitempty" validate:"omitempty,gt=0"`
	AudioBitRate     *int `json:"audio_bit_rate,omitempty" validate:"omitempty,gt=0"`
	AudioChannels    *int `json:"audio_channels,omitempty" validate:"omitempty,gt=0,lte=8"`
	MaxAudioChannels *int `json:"max_audio_channels,omitempty" validate:"omitempty,gt=0,lte=8"`
	AudioSampleRate  *int `json:"audio_sample_rate,omitempty" validate:"omitempty,gt=0"`

	Width        *int     `json:"width,omitempty" validate:"omitempty,gt=0"`
	Height       *int     `json:"height,omitempty" validate:"omitempty,gt=0"`
	MaxWidth     *int     `json:"max_width,omitempty" validate:"omitempty,gt=0"`
	MaxHeight    *int     `json:"max_height,omitempty" validate:"omitempty,gt=0"`
	Framerate    *float64 `json:"framerate,omitempty" validate:"omitempty,gt=0"`
	MaxFramerate *float64 `json:"max_framerate,omitempty" validate:"omitempty,gt=0"`
	Profile      string   `json:"profile,omitempty" validate:"omitempty,max=32"`
	Level        *float64 `json:"level,omitempty" validate:"omitempty,gt=0"`

	// StartTimeTicks is the seek offset in 100ns ticks.
	StartTimeTicks *int64 `json:"start_time_ticks,omitempty" validate:"omitempty,gte=0"`

	VideoStreamIndex    *int                   `json:"video_stream_index,omitempty" validate:"omitempty,gte=0"`
	AudioStreamIndex    *int                   `json:"audio_stream_index,omitempty" validate:"omitempty,gte=0"`
	SubtitleStreamIndex *int                   `json:"subtitle_stream_index,omitempty" validate:"omitempty,gte=0"`
	SubtitleMethod      SubtitleDeliveryMethod `json:"subtitle_method,omitempty" validate:"omitempty,oneof=encode embed external hls"`

	DeInterlace                bool `json:"deinterlace"`
	ReadInputAtNativeFramerate bool `json:"read_input_at_native_framerate"`
	EnableMpegtsM2TsMode       bool `json:"enable_mpegts_m2ts_mode"`
	AllowVideoStreamCopy       bool `json:"allow_video_stream_copy"`
	AllowAudioStreamCopy       bool `json:"allow_audio_stream_copy"`
	CPUCoreLimit               *int `json:"cpu_core_limit,omitempty" validate:"omitempty,gte=0"`
}

// HasFixedResolution returns true when both output width and height are pinned.
func (o *EncodingJobOptions) HasFixedResolution() bool {
	return o.Width != nil && o.Height != nil
}

// AudioCodecs returns the accepted audio codecs in preference order.
func (o *EncodingJobOptions) AudioCodecs() []string {
	return splitCodecs(o.AudioCodec)
}

// VideoCodecs returns the accepted video codecs in preference order.
func (o *EncodingJobOptions) VideoCodecs() []string {
	return splitCodecs(o.VideoCodec)
}

func splitCodecs(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func optionsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the mandatory and range constraints of the request.
func (o *EncodingJobOptions) Validate() error {
	err := optionsValidator().Struct(o)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, ErrValidation{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}
