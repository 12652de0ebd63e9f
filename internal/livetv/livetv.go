// Package livetv opens network sources that must be probed before they can be encoded.
package livetv

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/encodarr/internal/models"
)

// ErrInvalidOpenToken is returned for tokens that are not network URLs.
var ErrInvalidOpenToken = errors.New("open token is not a network url")

// Prober probes a source URL.
type Prober interface {
	ProbeMediaSource(ctx context.Context, input string) (*models.MediaSourceInfo, error)
}

// Opener opens live streams and tracks the ones still open.
type Opener struct {
	prober Prober
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	streams map[string]*Stream
}

// NewOpener creates an opener probing sources with prober.
func NewOpener(prober Prober, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		prober:  prober,
		logger:  logger.With(slog.String("component", "livetv")),
		streams: make(map[string]*Stream),
	}
}

// Open probes the URL in openToken and registers the stream under a new id.
// The returned media source is marked as opened so it is not opened again.
func (o *Opener) Open(ctx context.Context, openToken string) (*Stream, error) {
	url := strings.TrimSpace(openToken)
	if !models.ProtocolForPath(url).IsNetwork() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOpenToken, openToken)
	}

	src, err := o.prober.ProbeMediaSource(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("probing live stream: %w", err)
	}

	id := uuid.NewString()
	src.Path = url
	src.Protocol = models.ProtocolForPath(url)
	src.RequiresOpening = false
	src.OpenToken = ""
	src.LiveStreamID = id
	if src.ID == "" {
		src.ID = id
	}

	s := &Stream{id: id, url: url, source: src, opened: time.Now(), opener: o}

	o.mu.Lock()
	o.seq++
	s.seq = o.seq
	o.streams[id] = s
	o.mu.Unlock()

	o.logger.Info("opened live stream",
		slog.String("live_stream_id", id),
		slog.String("url", url),
		slog.Int("streams", len(src.MediaStreams)))
	return s, nil
}

// List returns the open streams, oldest first.
func (o *Opener) List() []*Stream {
	o.mu.Lock()
	out := make([]*Stream, 0, len(o.streams))
	for _, s := range o.streams {
		out = append(out, s)
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b *Stream) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Get returns the open stream with id.
func (o *Opener) Get(id string) (*Stream, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.streams[id]
	return s, ok
}

func (o *Opener) release(s *Stream) {
	o.mu.Lock()
	delete(o.streams, s.id)
	o.mu.Unlock()
	o.logger.Debug("closed live stream",
		slog.String("live_stream_id", s.id),
		slog.Duration("open_for", time.Since(s.opened)))
}

// Stream is an opened live source.
type Stream struct {
	id     string
	url    string
	source *models.MediaSourceInfo
	opened time.Time
	seq    uint64
	opener *Opener

	closeOnce sync.Once
}

// ID returns the live stream id.
func (s *Stream) ID() string { return s.id }

// URL returns the source URL.
func (s *Stream) URL() string { return s.url }

// OpenedAt returns when the stream was opened.
func (s *Stream) OpenedAt() time.Time { return s.opened }

// MediaSource returns the probed media source.
func (s *Stream) MediaSource() *models.MediaSourceInfo { return s.source }

// Close unregisters the stream.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { s.opener.release(s) })
	return nil
}
