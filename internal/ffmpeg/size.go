package ffmpeg

import (
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/encodarr/internal/models"
)

// ScaleFilter returns the scale filter for the requested output size, or "" when the
// request has no size constraint. Exactly one case applies, in priority order: width and
// height, max width and max height, width, height, max width, max height. Every
// computed dimension is rounded down to an even number.
func ScaleFilter(o *models.EncodingJobOptions) string {
	switch {
	case o.Width != nil && o.Height != nil:
		return "scale=trunc(" + FormatInt(*o.Width) + "/2)*2:trunc(" + FormatInt(*o.Height) + "/2)*2"

	case o.MaxWidth != nil && o.MaxHeight != nil:
		mw, mh := FormatInt(*o.MaxWidth), FormatInt(*o.MaxHeight)
		return `scale=trunc(min(max(iw\,ih*dar)\,min(` + mw + `\,` + mh + `*dar))/2)*2:` +
			`trunc(min(max(iw/dar\,ih)\,min(` + mw + `/dar\,` + mh + `))/2)*2`

	case o.Width != nil:
		return "scale=" + FormatInt(*o.Width) + ":trunc(ow/a/2)*2"

	case o.Height != nil:
		return "scale=trunc(oh*a/2)*2:" + FormatInt(*o.Height)

	case o.MaxWidth != nil:
		return `scale=min(iw\,` + FormatInt(*o.MaxWidth) + `):trunc(ow/dar/2)*2`

	case o.MaxHeight != nil:
		return `scale=trunc(oh*a/2)*2:min(ih\,` + FormatInt(*o.MaxHeight) + `)`
	}
	return ""
}

// ComputeOutputSize evaluates the scale filter chosen by ScaleFilter against a source
// video stream. ok is false when the source dimensions are needed but unknown.
func ComputeOutputSize(source *models.MediaStream, o *models.EncodingJobOptions) (width, height int, ok bool) {
	if o.Width != nil && o.Height != nil {
		return even(float64(*o.Width)), even(float64(*o.Height)), true
	}
	if source == nil || source.Width == nil || source.Height == nil || *source.Height == 0 {
		return 0, 0, false
	}

	iw, ih := float64(*source.Width), float64(*source.Height)
	a := iw / ih
	dar := displayAspect(source.AspectRatio, a)

	switch {
	case o.MaxWidth != nil && o.MaxHeight != nil:
		mw, mh := float64(*o.MaxWidth), float64(*o.MaxHeight)
		width = even(math.Min(math.Max(iw, ih*dar), math.Min(mw, mh*dar)))
		height = even(math.Min(math.Max(iw/dar, ih), math.Min(mw/dar, mh)))

	case o.Width != nil:
		width = *o.Width
		height = even(float64(width) / a)

	case o.Height != nil:
		height = *o.Height
		width = even(float64(height) * a)

	case o.MaxWidth != nil:
		width = int(math.Min(iw, float64(*o.MaxWidth)))
		height = even(float64(width) / dar)

	case o.MaxHeight != nil:
		height = int(math.Min(ih, float64(*o.MaxHeight)))
		width = even(float64(height) * a)

	default:
		return int(iw), int(ih), true
	}
	return width, height, true
}

// even truncates to an even integer. The epsilon absorbs aspect ratio rounding so that,
// for example, 1080*16/9 lands on 1920 rather than 1918.
func even(v float64) int {
	return int(math.Trunc(v/2+1e-6)) * 2
}

// displayAspect parses an "n:d" display aspect ratio, falling back to the pixel aspect.
func displayAspect(ratio string, fallback float64) float64 {
	num, den, found := strings.Cut(ratio, ":")
	if !found {
		return fallback
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
		return fallback
	}
	return n / d
}
