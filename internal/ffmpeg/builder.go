package ffmpeg

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/subtitles"
)

// ErrMissingInput is returned when a command is built without an input path.
var ErrMissingInput = errors.New("encoding state has no input path")

// Layout selects the overall shape of an encoder command line.
type Layout int

const (
	// LayoutVideo writes one progressive video file.
	LayoutVideo Layout = iota
	// LayoutAudio writes one audio-only file.
	LayoutAudio
	// LayoutSegmented writes an HLS playlist plus MPEG-TS segments.
	LayoutSegmented
)

func (l Layout) String() string {
	switch l {
	case LayoutVideo:
		return "video"
	case LayoutAudio:
		return "audio"
	case LayoutSegmented:
		return "hls"
	default:
		return "unknown"
	}
}

// Capabilities reports which encoders and decoders the encoder binary provides.
type Capabilities interface {
	SupportsEncoder(name string) bool
	SupportsDecoder(name string) bool
}

type noCapabilities struct{}

func (noCapabilities) SupportsEncoder(string) bool { return false }
func (noCapabilities) SupportsDecoder(string) bool { return false }

// BuilderOptions holds the process-wide encoding settings the builder reads.
type BuilderOptions struct {
	HardwareAccelerationType string
	// DownmixAudioBoost is the volume multiplier applied when folding surround to stereo.
	DownmixAudioBoost float64
	// ProbeSize and AnalyzeDuration bound input analysis of network sources. Zero omits them.
	ProbeSize       int64
	AnalyzeDuration time.Duration
}

// DefaultBuilderOptions returns the settings used when none are configured.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{DownmixAudioBoost: 2}
}

// Builder turns an encoding state into an encoder argument vector. It holds no
// mutable state and never touches the filesystem; identical inputs give identical output.
type Builder struct {
	opts BuilderOptions
	caps Capabilities
}

// NewBuilder creates a command builder. A nil caps reports no optional encoders.
func NewBuilder(opts BuilderOptions, caps Capabilities) *Builder {
	if caps == nil {
		caps = noCapabilities{}
	}
	return &Builder{opts: opts, caps: caps}
}

// Build returns the full argument vector for the given layout, excluding the binary.
func (b *Builder) Build(s *models.EncodingState, layout Layout) ([]string, error) {
	if s == nil || s.InputPath() == "" {
		return nil, ErrMissingInput
	}
	switch layout {
	case LayoutAudio:
		return b.audioLayout(s), nil
	case LayoutSegmented:
		return b.segmentedLayout(s), nil
	default:
		return b.videoLayout(s), nil
	}
}

func (b *Builder) threads(s *models.EncodingState) string {
	if s.Options.CPUCoreLimit != nil {
		return FormatInt(*s.Options.CPUCoreLimit)
	}
	return "0"
}

// videoLayout: <inputmod> -i ... <map> <video> -map_metadata -1 -threads N <audio> -y <out>
func (b *Builder) videoLayout(s *models.EncodingState) []string {
	var args []string
	args = append(args, b.InputModifier(s)...)
	args = append(args, b.InputArgument(s)...)
	args = append(args, MapArgs(s)...)
	args = append(args, b.progressiveVideoArgs(s)...)
	args = append(args, "-map_metadata", "-1", "-threads", b.threads(s))
	args = append(args, b.audioArgs(s, false)...)
	return append(args, "-y", s.OutputFilePath)
}

func (b *Builder) audioLayout(s *models.EncodingState) []string {
	var args []string
	args = append(args, b.InputModifier(s)...)
	args = append(args, b.InputArgument(s)...)
	args = append(args, "-threads", b.threads(s), "-vn")
	if s.OutputAudioBitrate != nil {
		args = append(args, "-ab", FormatInt(*s.OutputAudioBitrate))
	}
	if s.OutputAudioChannels != nil {
		args = append(args, "-ac", FormatInt(*s.OutputAudioChannels))
	}
	if s.OutputAudioSampleRate != nil {
		args = append(args, "-ar", FormatInt(*s.OutputAudioSampleRate))
	}
	return append(args, "-id3v2_version", "3", "-write_id3v1", "1", "-y", s.OutputFilePath)
}

func (b *Builder) segmentedLayout(s *models.EncodingState) []string {
	segLen := FormatInt(s.SegmentLength)
	segments := strings.TrimSuffix(s.OutputFilePath, filepath.Ext(s.OutputFilePath)) + "%d.ts"

	var args []string
	args = append(args, b.InputModifier(s)...)
	args = append(args, b.InputArgument(s)...)
	args = append(args, "-map_metadata", "-1", "-threads", b.threads(s))
	args = append(args, MapArgs(s)...)
	args = append(args, b.segmentedVideoArgs(s)...)
	args = append(args, b.audioArgs(s, true)...)
	return append(args,
		"-f", "hls",
		"-hls_time", segLen,
		"-hls_list_size", "0",
		"-start_number", "0",
		"-hls_segment_filename", segments,
		"-y", s.OutputFilePath,
	)
}

func (b *Builder) progressiveVideoArgs(s *models.EncodingState) []string {
	codec := b.VideoEncoder(s)
	args := []string{"-codec:v:0", codec}
	if s.EnableMpegtsM2TsMode {
		args = append(args, "-mpegts_m2ts_mode", "1")
	}
	if strings.EqualFold(codec, CodecCopy) {
		return append(args, copyBitstreamFilter(s)...)
	}

	args = append(args, "-force_key_frames", "expr:gte(t,n_forced*5)")
	if s.HasGraphicalSubtitle() {
		args = append(args, b.GraphicalSubtitleParam(s)...)
	} else {
		args = append(args, b.OutputSizeParam(s)...)
	}
	args = append(args, b.VideoQualityParam(s, codec, false)...)
	if s.RunTimeTicks == nil {
		args = append(args, "-flags", "-global_header")
	}
	return args
}

func (b *Builder) segmentedVideoArgs(s *models.EncodingState) []string {
	codec := b.VideoEncoder(s)
	args := []string{"-codec:v:0", codec}
	if s.EnableMpegtsM2TsMode {
		args = append(args, "-mpegts_m2ts_mode", "1")
	}
	if strings.EqualFold(codec, CodecCopy) {
		return append(args, copyBitstreamFilter(s)...)
	}

	args = append(args, b.VideoQualityParam(s, codec, true)...)
	args = append(args, "-force_key_frames", "expr:gte(t,n_forced*"+FormatInt(s.SegmentLength)+")")
	if s.HasGraphicalSubtitle() {
		return append(args, b.GraphicalSubtitleParam(s)...)
	}
	return append(args, b.OutputSizeParam(s)...)
}

func copyBitstreamFilter(s *models.EncodingState) []string {
	if IsH264(s.VideoStream) {
		return []string{"-bsf:v", "h264_mp4toannexb"}
	}
	return nil
}

func (b *Builder) audioArgs(s *models.EncodingState, segmented bool) []string {
	codec := b.AudioEncoder(s)
	args := []string{"-codec:a:0", codec}
	if strings.EqualFold(codec, CodecCopy) {
		return args
	}
	if s.OutputAudioChannels != nil {
		args = append(args, "-ac", FormatInt(*s.OutputAudioChannels))
	}
	if s.OutputAudioBitrate != nil {
		args = append(args, "-ab", FormatInt(*s.OutputAudioBitrate))
	}
	return append(args, b.AudioFilterParam(s, segmented)...)
}

// InputModifier returns the arguments that precede -i, in a fixed order.
func (b *Builder) InputModifier(s *models.EncodingState) []string {
	var args []string
	args = append(args, b.probeSizeArgs(s)...)

	if ua := s.RemoteHeader("User-Agent"); ua != "" {
		args = append(args, "-user-agent", ua)
	}
	if s.Options.StartTimeTicks != nil && *s.Options.StartTimeTicks > 0 {
		args = append(args, "-ss", FormatTicksAsTime(*s.Options.StartTimeTicks))
	}
	if s.IsVideoRequest {
		args = append(args, "-fflags", "+genpts")
	}
	if s.InputAudioSync != "" {
		args = append(args, "-async", s.InputAudioSync)
	}
	if s.InputVideoSync != "" {
		args = append(args, "-vsync", s.InputVideoSync)
	}
	if s.ReadInputAtNativeFramerate {
		args = append(args, "-re")
	}
	return append(args, b.videoDecoder(s)...)
}

// probeSizeArgs widens analysis for multi-file disc inputs and applies the configured
// limits to network inputs.
func (b *Builder) probeSizeArgs(s *models.EncodingState) []string {
	if len(inputPaths(s)) > 1 {
		return []string{"-probesize", "1G", "-analyzeduration", "200M"}
	}
	if !s.InputProtocol.IsNetwork() {
		return nil
	}
	var args []string
	if b.opts.ProbeSize > 0 {
		args = append(args, "-probesize", FormatInt(b.opts.ProbeSize))
	}
	if b.opts.AnalyzeDuration > 0 {
		args = append(args, "-analyzeduration", FormatInt(b.opts.AnalyzeDuration.Microseconds()))
	}
	return args
}

// InputArgument returns the -i clause for the media, plus a second input for an
// external bitmap subtitle.
func (b *Builder) InputArgument(s *models.EncodingState) []string {
	args := []string{"-i", inputArgument(inputPaths(s), s.InputProtocol)}
	if s.HasExternalGraphicalSubtitle() {
		args = append(args, "-i", s.SubtitleStream.Path)
	}
	return args
}

// inputPaths resolves the files to read. Disc structures read their playable stream
// files from the mount point; an unmounted image is passed as is.
func inputPaths(s *models.EncodingState) []string {
	root := s.InputPath()
	if !s.IsInputVideo || len(s.PlayableStreamFileNames) == 0 {
		return []string{root}
	}
	if s.VideoType == models.VideoTypeIso && s.MountedPath == "" {
		return []string{root}
	}
	paths := make([]string, 0, len(s.PlayableStreamFileNames))
	for _, name := range s.PlayableStreamFileNames {
		paths = append(paths, filepath.Join(root, name))
	}
	return paths
}

func inputArgument(paths []string, protocol models.MediaProtocol) string {
	if protocol.IsNetwork() {
		return paths[0]
	}
	if len(paths) > 1 {
		return "concat:" + strings.Join(paths, "|")
	}
	return "file:" + paths[0]
}

// MapArgs selects the streams to encode.
func MapArgs(s *models.EncodingState) []string {
	if s.VideoStream == nil && s.AudioStream == nil {
		if s.IsInputVideo {
			return []string{"-sn"}
		}
		return nil
	}
	// Stream info without indexes; let the encoder pick.
	if s.VideoStream != nil && s.VideoStream.Index == -1 {
		return []string{"-sn"}
	}
	if s.AudioStream != nil && s.AudioStream.Index == -1 {
		if s.IsInputVideo {
			return []string{"-sn"}
		}
		return nil
	}

	var args []string
	if s.VideoStream != nil {
		args = append(args, "-map", "0:"+FormatInt(s.VideoStream.Index))
	} else {
		args = append(args, "-map", "-0:v")
	}
	if s.AudioStream != nil {
		args = append(args, "-map", "0:"+FormatInt(s.AudioStream.Index))
	} else {
		args = append(args, "-map", "-0:a")
	}

	switch {
	case s.SubtitleStream == nil:
		args = append(args, "-map", "-0:s")
	case s.HasExternalGraphicalSubtitle():
		args = append(args, "-map", "1:0", "-sn")
	}
	return args
}

// VideoQualityParam returns the encoder-specific quality, rate, frame rate, sync,
// profile and level arguments.
func (b *Builder) VideoQualityParam(s *models.EncodingState, encoder string, segmented bool) []string {
	family := LookupVideoFamily(encoder)

	args := []string{"-pix_fmt", "yuv420p"}
	args = append(args, family.Quality(s)...)
	if s.OutputVideoBitrate != nil {
		args = append(args, family.Bitrate(*s.OutputVideoBitrate, s.Options.HasFixedResolution(), segmented)...)
	}
	if rate := FramerateParam(s); rate != nil {
		args = append(args, "-r", FormatFloat(*rate))
	}
	if s.OutputVideoSync != "" {
		args = append(args, "-vsync", s.OutputVideoSync)
	}
	if s.Options.Profile != "" {
		args = append(args, "-profile:v", s.Options.Profile)
	}
	if s.Options.Level != nil {
		args = append(args, "-level", FormatFloat(*s.Options.Level))
	}
	return args
}

// FramerateParam returns the requested frame rate, or the maximum when the source exceeds it.
func FramerateParam(s *models.EncodingState) *float64 {
	if s.Options.Framerate != nil {
		return s.Options.Framerate
	}
	maxRate := s.Options.MaxFramerate
	if maxRate == nil || s.VideoStream == nil {
		return nil
	}
	if content := s.VideoStream.FrameRate(); content != nil && *content > *maxRate {
		return maxRate
	}
	return nil
}

// OutputSizeParam returns -vf with deinterlace, scaling and text subtitle burn-in
// filters, plus -copyts when burning in text subtitles.
func (b *Builder) OutputSizeParam(s *models.EncodingState) []string {
	var filters []string
	if s.DeInterlace {
		filters = append(filters, "yadif=0:-1:0")
	}
	if scale := ScaleFilter(&s.Options); scale != "" {
		filters = append(filters, scale)
	}

	var args []string
	if s.HasTextSubtitle() {
		filters = append(filters, b.TextSubtitleParam(s))
		args = append(args, "-copyts")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	return args
}

// TextSubtitleParam renders the subtitles filter for burning in a text subtitle.
func (b *Builder) TextSubtitleParam(s *models.EncodingState) string {
	seconds := FormatInt(s.StartSeconds())
	if s.SubtitleStream.IsExternal {
		charset := ""
		if s.SubtitleCharset != "" {
			charset = ":charenc=" + s.SubtitleCharset
		}
		return "subtitles=filename='" + subtitles.EscapeFilterPath(s.SubtitleStream.Path) + "'" +
			charset + ",setpts=PTS -" + seconds + "/TB"
	}
	return "subtitles='" + subtitles.EscapeFilterPath(s.InputPath()) +
		":si=" + FormatInt(s.InternalSubtitleStreamOffset) + "',setpts=PTS -" + seconds + "/TB"
}

// GraphicalSubtitleParam overlays a bitmap subtitle stream onto the video.
func (b *Builder) GraphicalSubtitleParam(s *models.EncodingState) []string {
	outputScale := ""
	if scale := ScaleFilter(&s.Options); scale != "" {
		outputScale = "," + scale
	}

	videoScale := ""
	if s.VideoStream != nil && s.VideoStream.Width != nil && s.VideoStream.Height != nil {
		videoScale = ",scale=" + FormatInt(*s.VideoStream.Width) + ":" + FormatInt(*s.VideoStream.Height)
	}

	input, index := 0, s.SubtitleStream.Index
	if s.SubtitleStream.IsExternal {
		input, index = 1, 0
	}

	videoIndex := 0
	if s.VideoStream != nil {
		videoIndex = s.VideoStream.Index
	}

	graph := "[" + FormatInt(input) + ":" + FormatInt(index) + "]format=yuva444p" + videoScale +
		",lut=u=128:v=128:y=gammaval(.3)[sub] ; [0:" + FormatInt(videoIndex) + "] [sub] overlay" + outputScale
	return []string{"-filter_complex", graph}
}

// AudioFilterParam renders -af with resampling, optional downmix boost and the
// timestamp shift matching a burned-in text subtitle.
func (b *Builder) AudioFilterParam(s *models.EncodingState, segmented bool) []string {
	var sb strings.Builder
	if segmented {
		sb.WriteString("adelay=1,")
	}
	sb.WriteString("aresample=")
	if s.OutputAudioSampleRate != nil {
		sb.WriteString(FormatInt(*s.OutputAudioSampleRate))
		sb.WriteString(":")
	}
	sb.WriteString("async=")
	sb.WriteString(s.OutputAudioSync)

	if s.OutputAudioChannels != nil && *s.OutputAudioChannels <= 2 &&
		s.AudioStream != nil && s.AudioStream.Channels != nil && *s.AudioStream.Channels > 5 {
		sb.WriteString(",volume=")
		sb.WriteString(FormatFloat(b.opts.DownmixAudioBoost))
	}

	if s.HasTextSubtitle() {
		sb.WriteString(",asetpts=PTS-")
		sb.WriteString(FormatInt(s.StartSeconds()))
		sb.WriteString("/TB")
	}
	return []string{"-af", sb.String()}
}
