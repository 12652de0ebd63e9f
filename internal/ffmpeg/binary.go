// Package ffmpeg builds encoder command lines and wraps the encoder and probe binaries:
// detection, capability listing, media probing, progress parsing and process sampling.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/encodarr/internal/util"
)

// Environment variables consulted when no binary path is configured.
const (
	EncoderBinaryEnv = "ENCODARR_FFMPEG_BINARY"
	ProbeBinaryEnv   = "ENCODARR_FFPROBE_BINARY"
)

// BinaryInfo describes the detected encoder installation.
type BinaryInfo struct {
	EncoderPath   string   `json:"encoder_path"`
	ProbePath     string   `json:"probe_path,omitempty"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
	Decoders      []string `json:"decoders,omitempty"`
	HWAccels      []string `json:"hw_accels,omitempty"`
}

// SupportsEncoder returns true if the encoder is available.
func (info *BinaryInfo) SupportsEncoder(name string) bool {
	return info != nil && slices.Contains(info.Encoders, name)
}

// SupportsDecoder returns true if the decoder is available.
func (info *BinaryInfo) SupportsDecoder(name string) bool {
	return info != nil && slices.Contains(info.Decoders, name)
}

// JSON returns the binary info as an indented JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// BinaryDetector locates the encoder and probe binaries and caches their capabilities.
type BinaryDetector struct {
	encoderPath string
	probePath   string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths are searched for via the
// environment, the working directory and PATH.
func NewBinaryDetector(encoderPath, probePath string) *BinaryDetector {
	return &BinaryDetector{
		encoderPath: encoderPath,
		probePath:   probePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets how long detection results are reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached binary info, detecting it when stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached detection result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

// SupportsEncoder reports whether the last detected binary has the encoder. It never
// triggers detection, so a detector that has not run reports nothing.
func (d *BinaryDetector) SupportsEncoder(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info.SupportsEncoder(name)
}

// SupportsDecoder reports whether the last detected binary has the decoder.
func (d *BinaryDetector) SupportsDecoder(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info.SupportsDecoder(name)
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	encoderPath := d.encoderPath
	if encoderPath == "" {
		p, err := util.FindBinary("ffmpeg", EncoderBinaryEnv)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		encoderPath = p
	}
	info.EncoderPath = encoderPath

	// The probe binary is optional; callers that need it check ProbePath.
	info.ProbePath = d.probePath
	if info.ProbePath == "" {
		if p, err := util.FindBinary("ffprobe", ProbeBinaryEnv); err == nil {
			info.ProbePath = p
		}
	}

	out, err := exec.CommandContext(ctx, encoderPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if err := parseVersion(string(out), info); err != nil {
		return nil, err
	}

	if out, err := exec.CommandContext(ctx, encoderPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseCodecList(string(out))
	}
	if out, err := exec.CommandContext(ctx, encoderPath, "-decoders", "-hide_banner").Output(); err == nil {
		info.Decoders = parseCodecList(string(out))
	}
	if out, err := exec.CommandContext(ctx, encoderPath, "-hwaccels", "-hide_banner").Output(); err == nil {
		info.HWAccels = parseHWAccels(string(out))
	}

	return info, nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads "ffmpeg version 6.0 ..." style output.
func parseVersion(output string, info *BinaryInfo) error {
	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Version = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.Version == "" {
		return fmt.Errorf("failed to parse ffmpeg version")
	}
	return nil
}

// parseCodecList reads -encoders/-decoders output:
//
//	V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
func parseCodecList(output string) []string {
	var names []string
	inList := false
	for line := range strings.SplitSeq(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) > 0 {
			names = append(names, parts[0])
		}
	}
	return names
}

// parseHWAccels reads -hwaccels output.
func parseHWAccels(output string) []string {
	var accels []string
	inList := false
	for line := range strings.SplitSeq(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels
}
