package ffmpeg

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// Progress is the encoder state reported on a stats line.
type Progress struct {
	Frame      int64         `json:"frame"`
	FPS        float64       `json:"fps"`
	Bitrate    string        `json:"bitrate,omitempty"`
	BitrateBps *int          `json:"bitrate_bps,omitempty"`
	TotalSize  int64         `json:"total_size"`
	Time       time.Duration `json:"time"`
	Speed      float64       `json:"speed"`
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+)\s*(\w)bits/s`)
	sizeRe    = regexp.MustCompile(`size=\s*(\d+)\s*(\w+)`)
	timeRe    = regexp.MustCompile(`time=\s*(-?\d+):(\d+):(\d+)\.(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ParseProgressLine parses one encoder stats line such as
//
//	frame=  240 fps= 48 q=28.0 size=    1024kB time=00:00:10.00 bitrate= 838.9kbits/s speed=1.9x
//
// ok is false when the line carries no position.
func ParseProgressLine(line string) (p Progress, ok bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil || m[1][0] == '-' {
		return p, false
	}
	hours, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	frac := m[4]
	fracDur := time.Duration(0)
	if n, err := strconv.Atoi(frac); err == nil {
		// Fraction is hundredths on most builds; scale by its width.
		scale := time.Second
		for range frac {
			scale /= 10
		}
		fracDur = time.Duration(n) * scale
	}
	p.Time = time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second + fracDur

	if m := frameRe.FindStringSubmatch(line); m != nil {
		p.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRe.FindStringSubmatch(line); m != nil {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(line); m != nil {
		p.Bitrate = m[1] + m[2] + "bits/s"
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			bps := int(math.Round(v * unitMultiplier(m[2])))
			p.BitrateBps = &bps
		}
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		switch m[2] {
		case "kB", "KiB":
			n *= 1024
		case "mB", "MiB":
			n *= 1024 * 1024
		}
		p.TotalSize = n
	}
	if m := speedRe.FindStringSubmatch(line); m != nil {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	return p, true
}

func unitMultiplier(unit string) float64 {
	switch unit {
	case "k":
		return 1e3
	case "m", "M":
		return 1e6
	case "g", "G":
		return 1e9
	default:
		return 1
	}
}
