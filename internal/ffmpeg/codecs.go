package ffmpeg

import (
	"strings"

	"github.com/jmylchreest/encodarr/internal/models"
)

// Hardware acceleration types accepted in the encoding configuration.
const (
	HWAccelNone  = ""
	HWAccelQSV   = "qsv"
	HWAccelNVENC = "nvenc"
)

// CodecCopy is the pseudo-encoder that passes a bitstream through unchanged.
const CodecCopy = "copy"

// BitratePolicy renders the rate-control arguments of an encoder for a target bitrate.
type BitratePolicy func(bitrate int, fixedResolution, segmented bool) []string

// VideoFamily holds the encoding policy of one video encoder.
type VideoFamily struct {
	Name    string
	Quality func(s *models.EncodingState) []string
	Bitrate BitratePolicy
}

// videoFamilies is keyed by lower-case encoder name.
var videoFamilies = map[string]VideoFamily{
	"libx264": {
		Name:    "libx264",
		Quality: fixedQuality("-preset", "superfast", "-crf", "28"),
		Bitrate: defaultPolicy,
	},
	"libx265": {
		Name:    "libx265",
		Quality: fixedQuality("-preset", "fast", "-crf", "28"),
		Bitrate: defaultPolicy,
	},
	"h264_qsv": {
		Name:    "h264_qsv",
		Quality: fixedQuality("-preset", "7", "-look_ahead", "0"),
		Bitrate: defaultPolicy,
	},
	"h264_nvenc": {
		Name:    "h264_nvenc",
		Quality: fixedQuality("-preset", "default"),
		Bitrate: defaultPolicy,
	},
	"libvpx": {
		Name:    "libvpx",
		Quality: vpxQuality,
		Bitrate: collarPolicy,
	},
	"mpeg4": {
		Name:    "mpeg4",
		Quality: fixedQuality("-mbd", "rd", "-flags", "+mv4+aic", "-trellis", "2", "-cmp", "2", "-subcmp", "2", "-bf", "2"),
		Bitrate: defaultPolicy,
	},
	"wmv2": {
		Name:    "wmv2",
		Quality: fixedQuality("-qmin", "2"),
		Bitrate: defaultPolicy,
	},
	"msmpeg4": {
		Name:    "msmpeg4",
		Quality: fixedQuality("-mbd", "2"),
		Bitrate: directPolicy,
	},
}

var defaultFamily = VideoFamily{
	Quality: func(*models.EncodingState) []string { return nil },
	Bitrate: defaultPolicy,
}

// LookupVideoFamily returns the policy for an encoder. Unknown encoders get no
// quality arguments and the default rate control.
func LookupVideoFamily(encoder string) VideoFamily {
	if f, ok := videoFamilies[strings.ToLower(encoder)]; ok {
		return f
	}
	f := defaultFamily
	f.Name = strings.ToLower(encoder)
	return f
}

func fixedQuality(args ...string) func(*models.EncodingState) []string {
	return func(*models.EncodingState) []string {
		return append([]string(nil), args...)
	}
}

// vpxQuality uses profile 1 for VC-1 sources; values 0-3, 0 being highest quality but slowest.
func vpxQuality(s *models.EncodingState) []string {
	profile := 0
	if s.VideoStream != nil && strings.EqualFold(s.VideoStream.Codec, "vc1") {
		profile++
	}
	profile = min(profile, 2)
	return []string{
		"-speed", "16",
		"-quality", "good",
		"-profile:v", FormatInt(profile),
		"-slices", "8",
		"-crf", "10",
		"-qmin", "0",
		"-qmax", "50",
	}
}

// defaultPolicy: fixed resolution segmented output caps at 80% of target, fixed
// resolution otherwise sets the rate directly, and free resolution uses a 2x buffer.
func defaultPolicy(bitrate int, fixedResolution, segmented bool) []string {
	b := FormatInt(bitrate)
	if fixedResolution {
		if segmented {
			return []string{"-b:v", b, "-maxrate", FormatInt(bitrate * 80 / 100), "-bufsize", b}
		}
		return []string{"-b:v", b}
	}
	return []string{"-maxrate", b, "-bufsize", FormatInt(bitrate * 2)}
}

// collarPolicy keeps VP8 within 90-110% of target at fixed resolution. With crf,
// -b:v acts as a ceiling, so free resolution only constrains upward.
func collarPolicy(bitrate int, fixedResolution, _ bool) []string {
	b := FormatInt(bitrate)
	if fixedResolution {
		return []string{
			"-minrate:v", FormatInt(bitrate * 90 / 100),
			"-maxrate:v", FormatInt(bitrate * 110 / 100),
			"-bufsize:v", b,
			"-b:v", b,
		}
	}
	return []string{"-maxrate:v", b, "-bufsize:v", FormatInt(bitrate * 2), "-b:v", b}
}

func directPolicy(bitrate int, _, _ bool) []string {
	return []string{"-b:v", FormatInt(bitrate)}
}

// IsH264 reports whether a stream is H.264 family by codec name.
func IsH264(stream *models.MediaStream) bool {
	if stream == nil {
		return false
	}
	codec := strings.ToLower(stream.Codec)
	return strings.Contains(codec, "264") || strings.Contains(codec, "avc")
}

// VideoEncoder maps the negotiated output video codec to an encoder name.
func (b *Builder) VideoEncoder(s *models.EncodingState) string {
	codec := strings.ToLower(strings.TrimSpace(s.OutputVideoCodec))
	switch codec {
	case "":
		return CodecCopy
	case "h264":
		return b.h264Encoder()
	case "h265", "hevc":
		return "libx265"
	case "vpx":
		return "libvpx"
	case "wmv":
		return "wmv2"
	case "theora":
		return "libtheora"
	default:
		return codec
	}
}

func (b *Builder) h264Encoder() string {
	switch strings.ToLower(b.opts.HardwareAccelerationType) {
	case HWAccelQSV:
		if b.caps.SupportsEncoder("h264_qsv") {
			return "h264_qsv"
		}
	case HWAccelNVENC:
		if b.caps.SupportsEncoder("h264_nvenc") {
			return "h264_nvenc"
		}
	}
	return "libx264"
}

// AudioEncoder maps the negotiated output audio codec to an encoder name.
func (b *Builder) AudioEncoder(s *models.EncodingState) string {
	codec := strings.ToLower(strings.TrimSpace(s.OutputAudioCodec))
	switch codec {
	case "":
		return CodecCopy
	case "mp3":
		return "libmp3lame"
	case "vorbis":
		return "libvorbis"
	case "wma":
		return "wmav2"
	default:
		return codec
	}
}

// videoDecoder selects a QSV decoder for the source when QSV is configured and available.
func (b *Builder) videoDecoder(s *models.EncodingState) []string {
	if !strings.EqualFold(b.opts.HardwareAccelerationType, HWAccelQSV) {
		return nil
	}
	if s.VideoStream == nil || s.VideoStream.Codec == "" {
		return nil
	}
	var decoder string
	switch strings.ToLower(s.VideoStream.Codec) {
	case "avc", "h264":
		decoder = "h264_qsv"
	case "mpeg2video":
		decoder = "mpeg2_qsv"
	case "vc1":
		decoder = "vc1_qsv"
	default:
		return nil
	}
	if !b.caps.SupportsDecoder(decoder) {
		return nil
	}
	return []string{"-c:v", decoder}
}
