package transcode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/observability"
)

// maxPendingLine bounds the partial line kept between reads.
const maxPendingLine = 64 * 1024

// LogStreamer copies the encoder's diagnostic output to the job log as it arrives and
// hands every progress line to a callback. Write failures are logged once and otherwise
// ignored; the stream is still drained so the encoder never blocks on a full pipe.
type LogStreamer struct {
	w          io.Writer
	onProgress func(ffmpeg.Progress)
	logger     *slog.Logger

	writeFailed bool
	pending     []byte
}

// NewLogStreamer creates a streamer writing to w. onProgress may be nil.
func NewLogStreamer(w io.Writer, onProgress func(ffmpeg.Progress), logger *slog.Logger) *LogStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStreamer{w: w, onProgress: onProgress, logger: logger}
}

// WriteHeader writes the command line followed by a blank line.
func (ls *LogStreamer) WriteHeader(commandLine string) error {
	_, err := io.WriteString(ls.w, commandLine+"\n\n")
	return err
}

// Stream reads r until EOF. Read errors other than EOF are returned; they are logged by
// the caller and never affect the job outcome.
func (ls *LogStreamer) Stream(r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ls.write(buf[:n])
			ls.scan(buf[:n])
		}
		if err != nil {
			if len(ls.pending) > 0 {
				ls.handleLine(ls.pending)
				ls.pending = nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (ls *LogStreamer) write(p []byte) {
	if ls.writeFailed {
		return
	}
	if _, err := ls.w.Write(p); err != nil {
		ls.writeFailed = true
		ls.logger.Warn("writing encoder log", slog.String("error", err.Error()))
	}
}

// scan splits on both \n and \r; the encoder rewrites its stats line with \r.
func (ls *LogStreamer) scan(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexAny(p, "\r\n")
		if i < 0 {
			if len(ls.pending)+len(p) > maxPendingLine {
				ls.pending = ls.pending[:0]
			}
			ls.pending = append(ls.pending, p...)
			return
		}
		line := p[:i]
		if len(ls.pending) > 0 {
			line = append(ls.pending, line...)
		}
		ls.handleLine(line)
		ls.pending = ls.pending[:0]
		p = p[i+1:]
	}
}

func (ls *LogStreamer) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if ls.logger.Enabled(context.Background(), observability.LevelTrace) {
		ls.logger.Log(context.Background(), observability.LevelTrace, "encoder output", slog.String("line", string(line)))
	}
	if ls.onProgress == nil {
		return
	}
	if p, ok := ffmpeg.ParseProgressLine(string(line)); ok {
		ls.onProgress(p)
	}
}
