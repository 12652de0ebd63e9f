// Package subtitles supplies character set hints for external subtitle files and
// escapes their paths for the encoder's subtitles filter.
package subtitles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/language"

	"github.com/jmylchreest/encodarr/internal/models"
)

// sniffSize is how much of a file is inspected.
const sniffSize = 64 * 1024

// languageCharsets maps ISO 639-2/T codes to the legacy code page subtitles in that
// language are most often written in.
var languageCharsets = map[string]string{
	"pol": "windows-1250",
	"ces": "windows-1250",
	"slk": "windows-1250",
	"slv": "windows-1250",
	"hun": "windows-1250",
	"hrv": "windows-1250",
	"bos": "windows-1250",
	"srp": "windows-1250",
	"ron": "windows-1250",
	"sqi": "windows-1250",
	"ara": "windows-1256",
	"fas": "windows-1256",
	"heb": "windows-1255",
	"ell": "windows-1253",
	"tur": "windows-1254",
	"aze": "windows-1254",
	"rus": "windows-1251",
	"ukr": "windows-1251",
	"bel": "windows-1251",
	"bul": "windows-1251",
	"mkd": "windows-1251",
	"vie": "windows-1258",
	"kor": "cp949",
}

// bibliographic maps ISO 639-2/B codes to their terminology form.
var bibliographic = map[string]string{
	"cze": "ces",
	"slo": "slk",
	"rum": "ron",
	"alb": "sqi",
	"gre": "ell",
	"per": "fas",
	"mac": "mkd",
	"chi": "zho",
	"ger": "deu",
	"fre": "fra",
	"dut": "nld",
}

// Service inspects subtitle files.
type Service struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

// NewService creates a service reading through fsys, or the host filesystem when nil.
func NewService(fsys billy.Filesystem, logger *slog.Logger) *Service {
	if fsys == nil {
		fsys = osfs.New("/")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fs: fsys, logger: logger.With(slog.String("component", "subtitles"))}
}

// CharacterSet returns the encoder charset name for a subtitle file, or "" when the
// file is UTF-8 or nothing better than a guess is available. Remote files are not read.
func (s *Service) CharacterSet(_ context.Context, path string, protocol models.MediaProtocol, lang string) (string, error) {
	if protocol.IsNetwork() {
		return "", nil
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening subtitle: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("reading subtitle: %w", err)
	}
	buf = buf[:n]

	if validUTF8Prefix(buf) {
		return "", nil
	}

	if _, name, certain := charset.DetermineEncoding(buf, ""); certain && name != "utf-8" {
		if enc, err := htmlindex.Get(name); err == nil {
			if canonical, err := htmlindex.Name(enc); err == nil {
				return canonical, nil
			}
		}
		return name, nil
	}

	cs := CharsetForLanguage(lang)
	s.logger.Debug("subtitle charset from language",
		slog.String("path", path),
		slog.String("language", lang),
		slog.String("charset", cs))
	return cs, nil
}

// validUTF8Prefix reports whether buf is UTF-8, allowing a multi-byte sequence cut
// off at the end of a truncated read.
func validUTF8Prefix(buf []byte) bool {
	if utf8.Valid(buf) {
		return true
	}
	if len(buf) < sniffSize {
		return false
	}
	for i := 1; i < utf8.UTFMax && i <= len(buf); i++ {
		if utf8.Valid(buf[:len(buf)-i]) {
			return true
		}
	}
	return false
}

// CharsetForLanguage returns the typical legacy charset for a language code, or "".
func CharsetForLanguage(lang string) string {
	return languageCharsets[NormalizeLanguage(lang)]
}

// NormalizeLanguage converts a two or three letter language code, or a BCP 47 tag,
// to its ISO 639-2/T form. Unknown codes are returned lower-cased.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if t, ok := bibliographic[lang]; ok {
		return t
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	if code := base.ISO3(); code != "" && code != "und" {
		return code
	}
	return lang
}

// EscapeFilterPath escapes a path for use inside a quoted filter argument.
func EscapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	return strings.ReplaceAll(path, `'`, `'\\\''`)
}
