package models

import (
	"slices"
	"strings"
)

// MediaStreamType identifies the kind of an elementary stream.
type MediaStreamType string

const (
	MediaStreamTypeAudio         MediaStreamType = "audio"
	MediaStreamTypeVideo         MediaStreamType = "video"
	MediaStreamTypeSubtitle      MediaStreamType = "subtitle"
	MediaStreamTypeEmbeddedImage MediaStreamType = "embedded_image"
)

// MediaProtocol is the transport an input is read over.
type MediaProtocol string

const (
	MediaProtocolFile MediaProtocol = "file"
	MediaProtocolHTTP MediaProtocol = "http"
	MediaProtocolRTMP MediaProtocol = "rtmp"
	MediaProtocolRTSP MediaProtocol = "rtsp"
	MediaProtocolUDP  MediaProtocol = "udp"
)

// IsNetwork returns true for protocols that are not local files.
func (p MediaProtocol) IsNetwork() bool {
	return p != "" && p != MediaProtocolFile
}

// ProtocolForPath infers the protocol from a path or URL scheme.
func ProtocolForPath(path string) MediaProtocol {
	lower := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return MediaProtocolHTTP
	case strings.HasPrefix(lower, "rtmp://"), strings.HasPrefix(lower, "rtmps://"):
		return MediaProtocolRTMP
	case strings.HasPrefix(lower, "rtsp://"):
		return MediaProtocolRTSP
	case strings.HasPrefix(lower, "udp://"), strings.HasPrefix(lower, "rtp://"):
		return MediaProtocolUDP
	default:
		return MediaProtocolFile
	}
}

// VideoType describes how the video of a media source is packaged.
type VideoType string

const (
	VideoTypeVideoFile VideoType = "video_file"
	VideoTypeIso       VideoType = "iso"
	VideoTypeDvd       VideoType = "dvd"
	VideoTypeBluRay    VideoType = "bluray"
)

// IsoType is the disc layout inside a disc image.
type IsoType string

const (
	IsoTypeDvd    IsoType = "dvd"
	IsoTypeBluRay IsoType = "bluray"
)

// SubtitleDeliveryMethod is how a selected subtitle reaches the client.
type SubtitleDeliveryMethod string

const (
	SubtitleDeliveryEncode   SubtitleDeliveryMethod = "encode"
	SubtitleDeliveryEmbed    SubtitleDeliveryMethod = "embed"
	SubtitleDeliveryExternal SubtitleDeliveryMethod = "external"
	SubtitleDeliveryHLS      SubtitleDeliveryMethod = "hls"
)

// graphicalSubtitleCodecs are bitmap subtitle formats that cannot be rendered by the
// subtitles filter and must be overlaid instead.
var graphicalSubtitleCodecs = []string{
	"pgs", "pgssub", "hdmv_pgs_subtitle",
	"dvdsub", "dvd_subtitle",
	"dvbsub", "dvb_subtitle",
	"xsub", "vobsub",
}

// MediaStream describes one elementary stream of a media source.
type MediaStream struct {
	Type             MediaStreamType `json:"type"`
	Index            int             `json:"index"`
	Codec            string          `json:"codec,omitempty"`
	CodecTag         string          `json:"codec_tag,omitempty"`
	Profile          string          `json:"profile,omitempty"`
	Level            *float64        `json:"level,omitempty"`
	Width            *int            `json:"width,omitempty"`
	Height           *int            `json:"height,omitempty"`
	AspectRatio      string          `json:"aspect_ratio,omitempty"`
	AverageFrameRate *float64        `json:"average_frame_rate,omitempty"`
	RealFrameRate    *float64        `json:"real_frame_rate,omitempty"`
	BitRate          *int            `json:"bit_rate,omitempty"`
	BitDepth         *int            `json:"bit_depth,omitempty"`
	PixelFormat      string          `json:"pixel_format,omitempty"`
	IsInterlaced     bool            `json:"is_interlaced"`
	Channels         *int            `json:"channels,omitempty"`
	ChannelLayout    string          `json:"channel_layout,omitempty"`
	SampleRate       *int            `json:"sample_rate,omitempty"`
	Language         string          `json:"language,omitempty"`
	Title            string          `json:"title,omitempty"`
	IsDefault        bool            `json:"is_default"`
	IsForced         bool            `json:"is_forced"`
	IsExternal       bool            `json:"is_external"`
	Path             string          `json:"path,omitempty"`
}

// IsTextSubtitleStream returns true when the subtitle can be rendered by the
// text subtitles filter.
func (s *MediaStream) IsTextSubtitleStream() bool {
	if s.Type != MediaStreamTypeSubtitle {
		return false
	}
	return !slices.Contains(graphicalSubtitleCodecs, strings.ToLower(s.Codec))
}

// FrameRate returns the average frame rate, falling back to the real frame rate.
func (s *MediaStream) FrameRate() *float64 {
	if s.AverageFrameRate != nil {
		return s.AverageFrameRate
	}
	return s.RealFrameRate
}

// MediaSourceInfo is a playable source of an item along with its probed streams.
type MediaSourceInfo struct {
	ID                      string            `json:"id"`
	Path                    string            `json:"path"`
	Protocol                MediaProtocol     `json:"protocol"`
	Container               string            `json:"container,omitempty"`
	VideoType               VideoType         `json:"video_type,omitempty"`
	IsoType                 IsoType           `json:"iso_type,omitempty"`
	RunTimeTicks            *int64            `json:"run_time_ticks,omitempty"`
	Bitrate                 *int              `json:"bitrate,omitempty"`
	MediaStreams            []MediaStream     `json:"media_streams"`
	RequiresOpening         bool              `json:"requires_opening"`
	OpenToken               string            `json:"open_token,omitempty"`
	LiveStreamID            string            `json:"live_stream_id,omitempty"`
	BufferMs                *int              `json:"buffer_ms,omitempty"`
	RequiredHTTPHeaders     map[string]string `json:"required_http_headers,omitempty"`
	PlayableStreamFileNames []string          `json:"playable_stream_file_names,omitempty"`
}

// StreamsOfType returns the streams of the given type in container order.
func (m *MediaSourceInfo) StreamsOfType(t MediaStreamType) []*MediaStream {
	var out []*MediaStream
	for i := range m.MediaStreams {
		if m.MediaStreams[i].Type == t {
			out = append(out, &m.MediaStreams[i])
		}
	}
	return out
}

// DefaultStream returns the stream of type t marked default, else the first of that type.
func (m *MediaSourceInfo) DefaultStream(t MediaStreamType) *MediaStream {
	streams := m.StreamsOfType(t)
	for _, s := range streams {
		if s.IsDefault {
			return s
		}
	}
	if len(streams) > 0 {
		return streams[0]
	}
	return nil
}

// StreamByIndex returns the stream of type t with the given container index.
func (m *MediaSourceInfo) StreamByIndex(t MediaStreamType, index int) *MediaStream {
	for i := range m.MediaStreams {
		if m.MediaStreams[i].Type == t && m.MediaStreams[i].Index == index {
			return &m.MediaStreams[i]
		}
	}
	return nil
}

// IntPtr returns a pointer to an int value.
func IntPtr(v int) *int {
	return &v
}

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(v int64) *int64 {
	return &v
}

// Float64Ptr returns a pointer to a float64 value.
func Float64Ptr(v float64) *float64 {
	return &v
}
