package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strings"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/models"
)

// DefaultSegmentLength is the HLS segment duration in seconds.
const DefaultSegmentLength = 3

// Factory builds the encoding state of a request: it resolves the media source, selects
// streams and derives the output parameters.
type Factory struct {
	resolver      MediaSourceResolver
	subtitles     SubtitleService
	segmentLength int
	logger        *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithSubtitleService sets the service used to detect external subtitle charsets.
func WithSubtitleService(s SubtitleService) FactoryOption {
	return func(f *Factory) { f.subtitles = s }
}

// WithSegmentLength sets the HLS segment duration in seconds.
func WithSegmentLength(seconds int) FactoryOption {
	return func(f *Factory) {
		if seconds > 0 {
			f.segmentLength = seconds
		}
	}
}

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// NewFactory creates a job factory.
func NewFactory(resolver MediaSourceResolver, opts ...FactoryOption) *Factory {
	f := &Factory{
		resolver:      resolver,
		segmentLength: DefaultSegmentLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates the request and prepares its encoding state. Validation failures are
// returned as *PreconditionError before the media source is touched.
func (f *Factory) Create(ctx context.Context, opts models.EncodingJobOptions, kind Kind) (*models.EncodingState, error) {
	if err := opts.Validate(); err != nil {
		return nil, &PreconditionError{Err: err}
	}

	source, err := f.resolver.ResolveMediaSource(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("resolving media source: %w", err)
	}

	s := models.NewEncodingState(opts)
	s.IsVideoRequest = kind.IsVideo()
	if kind == KindSegmented {
		s.SegmentLength = f.segmentLength
	}
	if s.IsVideoRequest {
		if codecs := opts.VideoCodecs(); len(codecs) > 0 {
			s.OutputVideoCodec = codecs[0]
		}
	}
	if codecs := opts.AudioCodecs(); len(codecs) > 0 {
		s.OutputAudioCodec = codecs[0]
	}

	AttachMediaSource(s, source)

	if sub := s.SubtitleStream; sub != nil && sub.IsExternal && sub.IsTextSubtitleStream() &&
		sub.Language != "" && f.subtitles != nil {
		charset, err := f.subtitles.CharacterSet(ctx, sub.Path, models.ProtocolForPath(sub.Path), sub.Language)
		if err != nil {
			f.logger.Warn("detecting subtitle charset",
				slog.String("path", sub.Path),
				slog.String("error", err.Error()))
		}
		s.SubtitleCharset = charset
	}

	if !(source.RequiresOpening && s.LiveStreamID == "") {
		TryStreamCopy(s)
	}
	return s, nil
}

// AttachMediaSource applies a media source to the state: input location, stream
// selection and the output parameters that depend on the selected streams.
func AttachMediaSource(s *models.EncodingState, src *models.MediaSourceInfo) {
	s.MediaSource = src
	s.MediaPath = src.Path
	s.InputProtocol = src.Protocol
	s.VideoType = src.VideoType
	if s.VideoType == "" {
		s.VideoType = models.VideoTypeVideoFile
	}
	if src.IsoType != "" {
		s.IsoType = src.IsoType
	}
	if len(src.PlayableStreamFileNames) > 0 {
		s.PlayableStreamFileNames = src.PlayableStreamFileNames
	}
	if src.RunTimeTicks != nil {
		s.RunTimeTicks = src.RunTimeTicks
	}
	if src.LiveStreamID != "" {
		s.LiveStreamID = src.LiveStreamID
	}
	if s.RemoteHTTPHeaders == nil {
		s.RemoteHTTPHeaders = map[string]string{}
	}
	maps.Copy(s.RemoteHTTPHeaders, src.RequiredHTTPHeaders)

	o := &s.Options
	s.VideoStream = selectStream(src, models.MediaStreamTypeVideo, o.VideoStreamIndex)
	s.AudioStream = selectStream(src, models.MediaStreamTypeAudio, o.AudioStreamIndex)
	s.SubtitleStream = nil
	if s.IsVideoRequest && o.SubtitleStreamIndex != nil &&
		(o.SubtitleMethod == "" || o.SubtitleMethod == models.SubtitleDeliveryEncode) {
		s.SubtitleStream = src.StreamByIndex(models.MediaStreamTypeSubtitle, *o.SubtitleStreamIndex)
	}
	s.InternalSubtitleStreamOffset = internalSubtitleOffset(src, s.SubtitleStream)

	s.IsInputVideo = s.VideoStream != nil || s.VideoType != models.VideoTypeVideoFile

	if s.ReadInputAtNativeFramerate {
		s.OutputAudioSync = "1000"
		s.InputVideoSync = "-1"
		s.InputAudioSync = "1"
	}

	s.OutputAudioChannels = outputAudioChannels(s)
	s.OutputAudioBitrate = outputAudioBitrate(s)
	s.OutputAudioSampleRate = o.AudioSampleRate
	s.OutputVideoBitrate = nil
	if s.IsVideoRequest {
		s.OutputVideoBitrate = outputVideoBitrate(s)
	}
}

// selectStream picks the requested index, else the default stream, else the first.
func selectStream(src *models.MediaSourceInfo, t models.MediaStreamType, index *int) *models.MediaStream {
	if index != nil {
		if s := src.StreamByIndex(t, *index); s != nil {
			return s
		}
	}
	return src.DefaultStream(t)
}

// internalSubtitleOffset is the position of the subtitle among the embedded subtitle
// streams, as the subtitles filter's si option counts them.
func internalSubtitleOffset(src *models.MediaSourceInfo, sub *models.MediaStream) int {
	if sub == nil || sub.IsExternal {
		return 0
	}
	offset := 0
	for _, s := range src.StreamsOfType(models.MediaStreamTypeSubtitle) {
		if s.IsExternal {
			continue
		}
		if s == sub {
			return offset
		}
		offset++
	}
	return 0
}

func outputAudioChannels(s *models.EncodingState) *int {
	o := &s.Options
	var source *int
	if s.AudioStream != nil {
		source = s.AudioStream.Channels
	}

	var channels *int
	switch {
	case o.AudioChannels != nil:
		channels = models.IntPtr(*o.AudioChannels)
	case o.MaxAudioChannels != nil:
		in := 2
		if source != nil && *source > 0 {
			in = *source
		}
		channels = models.IntPtr(min(*o.MaxAudioChannels, in))
	}

	// wmav2 only encodes stereo.
	if codec := strings.ToLower(s.OutputAudioCodec); codec == "wma" || codec == "wmav2" {
		switch {
		case channels != nil:
			channels = models.IntPtr(min(*channels, 2))
		case source != nil && *source > 2:
			channels = models.IntPtr(2)
		}
	}
	return channels
}

func outputAudioBitrate(s *models.EncodingState) *int {
	requested := s.Options.AudioBitRate
	if requested == nil {
		return nil
	}
	if s.AudioStream != nil && s.AudioStream.BitRate != nil && *s.AudioStream.BitRate > 0 {
		return models.IntPtr(min(*requested, *s.AudioStream.BitRate))
	}
	return models.IntPtr(*requested)
}

// outputVideoBitrate caps the requested bitrate at the source bitrate unless the output
// is larger than the source.
func outputVideoBitrate(s *models.EncodingState) *int {
	requested := s.Options.VideoBitRate
	if requested == nil {
		return nil
	}
	v := s.VideoStream
	if v == nil || v.BitRate == nil || *v.BitRate <= 0 {
		return models.IntPtr(*requested)
	}
	if _, h, ok := ffmpeg.ComputeOutputSize(v, &s.Options); ok && v.Height != nil && h > *v.Height {
		return models.IntPtr(*requested)
	}
	return models.IntPtr(min(*requested, *v.BitRate))
}

// TryStreamCopy switches video and audio to passthrough when the source already
// satisfies the request.
func TryStreamCopy(s *models.EncodingState) {
	if s.IsVideoRequest && s.VideoStream != nil && CanStreamCopyVideo(s) {
		s.OutputVideoCodec = ffmpeg.CodecCopy
	}
	if s.AudioStream != nil && CanStreamCopyAudio(s) {
		s.OutputAudioCodec = ffmpeg.CodecCopy
	}
}

// CanStreamCopyVideo reports whether the selected video stream can be passed through.
func CanStreamCopyVideo(s *models.EncodingState) bool {
	o := &s.Options
	v := s.VideoStream
	if v == nil || !o.AllowVideoStreamCopy {
		return false
	}
	if !codecAccepted(o.VideoCodecs(), v.Codec) {
		return false
	}
	// Burn-in and deinterlacing both need decoded frames.
	if s.SubtitleStream != nil || (v.IsInterlaced && s.DeInterlace) {
		return false
	}
	if o.Profile != "" && !strings.EqualFold(o.Profile, v.Profile) {
		return false
	}
	if o.Level != nil && (v.Level == nil || *v.Level > *o.Level) {
		return false
	}
	if !dimensionMatches(o.Width, v.Width) || !dimensionMatches(o.Height, v.Height) {
		return false
	}
	if !withinLimit(o.MaxWidth, v.Width) || !withinLimit(o.MaxHeight, v.Height) {
		return false
	}
	rate := v.FrameRate()
	if o.Framerate != nil && (rate == nil || math.Abs(*rate-*o.Framerate) > 0.01) {
		return false
	}
	if o.MaxFramerate != nil && (rate == nil || *rate > *o.MaxFramerate+0.01) {
		return false
	}
	if !withinLimit(o.VideoBitRate, v.BitRate) {
		return false
	}
	if ffmpeg.IsH264(v) && v.BitDepth != nil && *v.BitDepth > 8 {
		return false
	}
	return true
}

// CanStreamCopyAudio reports whether the selected audio stream can be passed through.
func CanStreamCopyAudio(s *models.EncodingState) bool {
	o := &s.Options
	a := s.AudioStream
	if a == nil || !o.AllowAudioStreamCopy {
		return false
	}
	if !codecAccepted(o.AudioCodecs(), a.Codec) {
		return false
	}
	return withinLimit(o.AudioChannels, a.Channels) &&
		withinLimit(o.MaxAudioChannels, a.Channels) &&
		withinLimit(o.AudioBitRate, a.BitRate) &&
		withinLimit(o.AudioSampleRate, a.SampleRate)
}

func dimensionMatches(want, have *int) bool {
	return want == nil || (have != nil && *have == *want)
}

// withinLimit is true when there is no limit, or the value is known and does not exceed it.
func withinLimit(limit, have *int) bool {
	return limit == nil || (have != nil && *have <= *limit)
}

var codecAliases = map[string]string{
	"avc":  "h264",
	"hevc": "h265",
}

func normalizeCodec(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if alias, ok := codecAliases[c]; ok {
		return alias
	}
	return c
}

func codecAccepted(accepted []string, codec string) bool {
	if codec == "" {
		return false
	}
	codec = normalizeCodec(codec)
	for _, c := range accepted {
		if normalizeCodec(c) == codec {
			return true
		}
	}
	return false
}
