package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodingJobOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    EncodingJobOptions
		wantErr string
	}{
		{
			name: "path and container",
			opts: EncodingJobOptions{MediaPath: "/media/a.mkv", OutputContainer: "mkv"},
		},
		{
			name: "item id and container",
			opts: EncodingJobOptions{ItemID: "item-1", OutputContainer: "ts"},
		},
		{
			name:    "missing input",
			opts:    EncodingJobOptions{OutputContainer: "mp4"},
			wantErr: "MediaPath",
		},
		{
			name:    "missing container",
			opts:    EncodingJobOptions{MediaPath: "/media/a.mkv"},
			wantErr: "OutputContainer",
		},
		{
			name:    "container with punctuation",
			opts:    EncodingJobOptions{MediaPath: "/media/a.mkv", OutputContainer: "../x"},
			wantErr: "OutputContainer",
		},
		{
			name: "negative bitrate",
			opts: EncodingJobOptions{
				MediaPath: "/media/a.mkv", OutputContainer: "mp4", VideoBitRate: IntPtr(-1),
			},
			wantErr: "VideoBitRate",
		},
		{
			name: "unknown subtitle method",
			opts: EncodingJobOptions{
				MediaPath: "/media/a.mkv", OutputContainer: "mp4", SubtitleMethod: "sideways",
			},
			wantErr: "SubtitleMethod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodingJobOptions_Codecs(t *testing.T) {
	opts := EncodingJobOptions{VideoCodec: "h264, hevc", AudioCodec: "aac,,mp3 "}
	assert.Equal(t, []string{"h264", "hevc"}, opts.VideoCodecs())
	assert.Equal(t, []string{"aac", "mp3"}, opts.AudioCodecs())
	assert.Empty(t, (&EncodingJobOptions{}).VideoCodecs())
}

func TestEncodingJobOptions_HasFixedResolution(t *testing.T) {
	opts := EncodingJobOptions{Width: IntPtr(1280)}
	assert.False(t, opts.HasFixedResolution())
	opts.Height = IntPtr(720)
	assert.True(t, opts.HasFixedResolution())
}
