package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
)

type fakeRegistry struct {
	mu      sync.Mutex
	reports []models.TranscodingInfo
	cleared []string
}

func (r *fakeRegistry) ReportTranscodingProgress(_ context.Context, info *models.TranscodingInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, *info)
	return nil
}

func (r *fakeRegistry) ClearTranscodingInfo(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, deviceID)
	return nil
}

func (r *fakeRegistry) Reports() []models.TranscodingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TranscodingInfo(nil), r.reports...)
}

func (r *fakeRegistry) Cleared() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cleared...)
}

type fakeResolver struct {
	source *models.MediaSourceInfo
	err    error
	calls  atomic.Int32
}

func (r *fakeResolver) ResolveMediaSource(_ context.Context, opts *models.EncodingJobOptions) (*models.MediaSourceInfo, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	src := *r.source
	src.MediaStreams = append([]models.MediaStream(nil), r.source.MediaStreams...)
	if src.Path == "" {
		src.Path = opts.MediaPath
	}
	return &src, nil
}

type fakeMount struct {
	path    string
	isoType models.IsoType
	names   []string
	closed  atomic.Int32
	err     error
}

func (m *fakeMount) Path() string                      { return m.path }
func (m *fakeMount) IsoType() models.IsoType           { return m.isoType }
func (m *fakeMount) PlayableStreamFileNames() []string { return m.names }
func (m *fakeMount) Close() error {
	m.closed.Add(1)
	return m.err
}

type fakeMounter struct {
	mount *fakeMount
	err   error
}

func (f *fakeMounter) CanMount(path string) bool {
	return filepath.Ext(path) == ".iso"
}

func (f *fakeMounter) Mount(_ context.Context, _ string) (MountedImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.mount, nil
}

type fakeLiveStream struct {
	id     string
	source *models.MediaSourceInfo
	closed atomic.Int32
}

func (s *fakeLiveStream) ID() string                           { return s.id }
func (s *fakeLiveStream) MediaSource() *models.MediaSourceInfo { return s.source }
func (s *fakeLiveStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeOpener struct {
	stream *fakeLiveStream
	err    error
	token  string
}

func (o *fakeOpener) OpenLiveStream(_ context.Context, openToken string) (LiveStream, error) {
	o.token = openToken
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

type fakeSubtitles struct {
	charset string
	err     error
}

func (f *fakeSubtitles) CharacterSet(context.Context, string, models.MediaProtocol, string) (string, error) {
	return f.charset, f.err
}

type fakeProber struct {
	source *models.MediaSourceInfo
	input  string
}

func (p *fakeProber) ProbeMediaSource(_ context.Context, input string) (*models.MediaSourceInfo, error) {
	p.input = input
	if p.source == nil {
		return nil, errors.New("probe failed")
	}
	return p.source, nil
}

// trackingFS records every file it opens so tests can check they were closed.
type trackingFS struct {
	billy.Filesystem

	mu    sync.Mutex
	files []*trackingFile
}

type trackingFile struct {
	billy.File
	closed atomic.Bool
}

func (f *trackingFile) Close() error {
	f.closed.Store(true)
	return f.File.Close()
}

func (t *trackingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	f, err := t.Filesystem.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	tf := &trackingFile{File: f}
	t.mu.Lock()
	t.files = append(t.files, tf)
	t.mu.Unlock()
	return tf, nil
}

func (t *trackingFS) Opened() []*trackingFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*trackingFile(nil), t.files...)
}

// writeEncoder writes a shell script standing in for the encoder. The script sees the
// generated arguments; the output path is the last one.
func writeEncoder(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const (
	progressLine = `echo "frame=  120 fps= 30 q=28.0 size=     256kB time=00:00:05.00 bitrate= 838.9kbits/s speed=1.0x" >&2`

	encoderSucceeds = progressLine + `
echo encoded > "$last"
exit 0`

	encoderFails = `echo encoded > "$last"
echo "Conversion failed!" >&2
exit 3`

	encoderWaitsForQuit = `echo encoded > "$last"
while read line; do
  if [ "$line" = "q" ]; then exit 0; fi
done
exit 0`
)

func sampleSource() *models.MediaSourceInfo {
	return &models.MediaSourceInfo{
		ID:           "src1",
		Protocol:     models.MediaProtocolFile,
		Container:    "matroska",
		VideoType:    models.VideoTypeVideoFile,
		RunTimeTicks: models.Int64Ptr(100_000_000), // 10s
		MediaStreams: []models.MediaStream{
			{
				Type: models.MediaStreamTypeVideo, Index: 0, Codec: "h264", Profile: "High",
				Level: models.Float64Ptr(41), Width: models.IntPtr(1920), Height: models.IntPtr(1080),
				AspectRatio: "16:9", AverageFrameRate: models.Float64Ptr(23.976),
				BitRate: models.IntPtr(8_000_000), BitDepth: models.IntPtr(8),
			},
			{
				Type: models.MediaStreamTypeAudio, Index: 1, Codec: "ac3",
				Channels: models.IntPtr(6), SampleRate: models.IntPtr(48000),
				BitRate: models.IntPtr(640_000), Language: "eng",
			},
			{
				Type: models.MediaStreamTypeAudio, Index: 2, Codec: "aac", IsDefault: true,
				Channels: models.IntPtr(2), SampleRate: models.IntPtr(44100),
				BitRate: models.IntPtr(128_000), Language: "fre",
			},
			{
				Type: models.MediaStreamTypeSubtitle, Index: 3, Codec: "subrip", Language: "eng",
			},
			{
				Type: models.MediaStreamTypeSubtitle, Index: 4, Codec: "hdmv_pgs_subtitle", Language: "ger",
			},
			{
				Type: models.MediaStreamTypeSubtitle, Index: 5, Codec: "srt", Language: "pol",
				IsExternal: true, Path: "/media/movie.pl.srt",
			},
		},
	}
}
