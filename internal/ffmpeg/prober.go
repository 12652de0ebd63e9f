package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/encodarr/internal/models"
)

// ProbeResult contains the ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index            int               `json:"index"`
	CodecName        string            `json:"codec_name"`
	Profile          string            `json:"profile"`
	CodecType        string            `json:"codec_type"`
	CodecTag         string            `json:"codec_tag_string"`
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	SampleAspect     string            `json:"sample_aspect_ratio,omitempty"`
	DisplayAspect    string            `json:"display_aspect_ratio,omitempty"`
	PixFmt           string            `json:"pix_fmt,omitempty"`
	Level            int               `json:"level,omitempty"`
	FieldOrder       string            `json:"field_order,omitempty"`
	SampleRate       string            `json:"sample_rate,omitempty"`
	Channels         int               `json:"channels,omitempty"`
	ChannelLayout    string            `json:"channel_layout,omitempty"`
	BitsPerSample    int               `json:"bits_per_sample,omitempty"`
	BitsPerRawSample string            `json:"bits_per_raw_sample,omitempty"`
	RFrameRate       string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate     string            `json:"avg_frame_rate,omitempty"`
	Duration         string            `json:"duration,omitempty"`
	BitRate          string            `json:"bit_rate,omitempty"`
	Disposition      ProbeDisposition  `json:"disposition,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains stream disposition flags.
type ProbeDisposition struct {
	Default     int `json:"default"`
	Forced      int `json:"forced"`
	AttachedPic int `json:"attached_pic"`
}

// Prober runs ffprobe and normalises its output.
type Prober struct {
	ffprobePath     string
	timeout         time.Duration
	probeSize       int64
	analyzeDuration time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// WithAnalysisLimits bounds how much of a network input ffprobe reads. Zero leaves the default.
func (p *Prober) WithAnalysisLimits(probeSize int64, analyzeDuration time.Duration) *Prober {
	p.probeSize = probeSize
	p.analyzeDuration = analyzeDuration
	return p
}

// Probe runs ffprobe against a path or URL.
func (p *Prober) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, errors.New("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}
	if models.ProtocolForPath(input).IsNetwork() {
		if p.probeSize > 0 {
			args = append(args, "-probesize", FormatInt(p.probeSize))
		}
		if p.analyzeDuration > 0 {
			args = append(args, "-analyzeduration", FormatInt(p.analyzeDuration.Microseconds()))
		}
	}
	args = append(args, input)

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeMediaSource probes an input and returns it as a media source.
func (p *Prober) ProbeMediaSource(ctx context.Context, input string) (*models.MediaSourceInfo, error) {
	result, err := p.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	return NormalizeProbeResult(result, input), nil
}

// audioContainers are formats whose video streams can only be cover art.
var audioContainers = map[string]bool{
	"mp3": true, "flac": true, "wav": true, "ogg": true, "aac": true,
	"ape": true, "wv": true, "tta": true, "dsf": true,
}

// NormalizeProbeResult converts ffprobe output into a media source.
func NormalizeProbeResult(result *ProbeResult, input string) *models.MediaSourceInfo {
	container := strings.Split(result.Format.FormatName, ",")[0]
	src := &models.MediaSourceInfo{
		Path:      input,
		Protocol:  models.ProtocolForPath(input),
		Container: container,
		VideoType: models.VideoTypeVideoFile,
	}
	if strings.EqualFold(filepath.Ext(input), ".iso") {
		src.VideoType = models.VideoTypeIso
	}

	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil && d > 0 {
		src.RunTimeTicks = models.Int64Ptr(int64(math.Round(d * float64(models.TicksPerSecond))))
	}
	if br, err := strconv.Atoi(result.Format.BitRate); err == nil && br > 0 {
		src.Bitrate = &br
	}

	isAudio := audioContainers[container]
	for _, ps := range result.Streams {
		if s, ok := normalizeStream(ps, result.Format, isAudio); ok {
			src.MediaStreams = append(src.MediaStreams, s)
		}
	}
	return src
}

func normalizeStream(ps ProbeStream, format ProbeFormat, isAudio bool) (models.MediaStream, bool) {
	// mov_text streams are mp4 chapters
	if strings.EqualFold(ps.CodecName, "mov_text") {
		return models.MediaStream{}, false
	}

	s := models.MediaStream{
		Index:       ps.Index,
		Codec:       ps.CodecName,
		Profile:     ps.Profile,
		PixelFormat: ps.PixFmt,
		Language:    ps.Tags["language"],
		Title:       ps.Tags["title"],
		IsDefault:   ps.Disposition.Default == 1,
		IsForced:    ps.Disposition.Forced == 1,
	}
	if ps.Level > 0 {
		s.Level = models.Float64Ptr(float64(ps.Level))
	}
	if ps.CodecTag != "" && !strings.Contains(ps.CodecTag, "[0]") {
		s.CodecTag = ps.CodecTag
	}

	switch ps.CodecType {
	case "audio":
		s.Type = models.MediaStreamTypeAudio
		if ps.Channels > 0 {
			s.Channels = models.IntPtr(ps.Channels)
		}
		if sr, err := strconv.Atoi(ps.SampleRate); err == nil && sr > 0 {
			s.SampleRate = &sr
		}
		s.ChannelLayout = strings.TrimSuffix(ps.ChannelLayout, "(side)")
		s.BitDepth = bitDepth(ps)

	case "subtitle":
		s.Type = models.MediaStreamTypeSubtitle

	case "video":
		s.Type = models.MediaStreamTypeVideo
		if isAudio || strings.EqualFold(s.Codec, "mjpeg") || ps.Disposition.AttachedPic == 1 {
			s.Type = models.MediaStreamTypeEmbeddedImage
		}
		if ps.Width > 0 {
			s.Width = models.IntPtr(ps.Width)
		}
		if ps.Height > 0 {
			s.Height = models.IntPtr(ps.Height)
		}
		if ps.DisplayAspect != "" && ps.DisplayAspect != "0:1" {
			s.AspectRatio = ps.DisplayAspect
		}
		s.AverageFrameRate = parseFramerate(ps.AvgFrameRate)
		s.RealFrameRate = parseFramerate(ps.RFrameRate)
		s.BitDepth = bitDepth(ps)
		switch ps.FieldOrder {
		case "tt", "bb", "tb", "bt":
			s.IsInterlaced = true
		}

	default:
		return models.MediaStream{}, false
	}

	bitrate, _ := strconv.Atoi(ps.BitRate)
	if bitrate == 0 && s.Type == models.MediaStreamTypeVideo {
		// Fall back to the container bitrate when the stream has none.
		bitrate, _ = strconv.Atoi(format.BitRate)
	}
	if bitrate > 0 {
		s.BitRate = &bitrate
	}
	return s, true
}

func bitDepth(ps ProbeStream) *int {
	if ps.BitsPerSample > 0 {
		return models.IntPtr(ps.BitsPerSample)
	}
	if raw, err := strconv.Atoi(ps.BitsPerRawSample); err == nil && raw > 0 {
		return &raw
	}
	return nil
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) *float64 {
	num, den, found := strings.Cut(fr, "/")
	if !found {
		if f, err := strconv.ParseFloat(fr, 64); err == nil && f > 0 {
			return &f
		}
		return nil
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n == 0 {
		return nil
	}
	rate := n / d
	return &rate
}
