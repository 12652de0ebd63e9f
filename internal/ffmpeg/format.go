package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/encodarr/internal/models"
)

// FormatInt renders an integer argument value.
func FormatInt[T ~int | ~int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

// FormatFloat renders a float argument value with a period decimal separator, no
// grouping and the shortest representation that round-trips.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatTicksAsTime renders 100ns ticks as an hh:mm:ss.fff seek position.
func FormatTicksAsTime(ticks int64) string {
	if ticks < 0 {
		ticks = 0
	}
	ms := ticks / (models.TicksPerSecond / 1000)
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
