package subtitles

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
)

const srtBody = "1\n00:00:01,000 --> 00:00:02,000\n"

func newTestService(t *testing.T, files map[string][]byte) *Service {
	t.Helper()
	fs := memfs.New()
	for name, data := range files {
		require.NoError(t, util.WriteFile(fs, name, data, 0o644))
	}
	return NewService(fs, nil)
}

func TestCharacterSet(t *testing.T) {
	// "Zażółć" in windows-1250.
	cp1250 := append([]byte(srtBody), 0x5A, 0x61, 0xBF, 0xF3, 0xB3, 0xE6, '\n')
	utf16 := append([]byte{0xFF, 0xFE}, []byte("1\x00\n\x00")...)

	svc := newTestService(t, map[string][]byte{
		"/subs/utf8.srt":   []byte(srtBody + "Zażółć gęślą jaźń\n"),
		"/subs/legacy.srt": cp1250,
		"/subs/utf16.srt":  utf16,
	})

	tests := []struct {
		name     string
		path     string
		protocol models.MediaProtocol
		lang     string
		want     string
	}{
		{"utf-8 needs no hint", "/subs/utf8.srt", models.MediaProtocolFile, "pol", ""},
		{"byte order mark wins", "/subs/utf16.srt", models.MediaProtocolFile, "pol", "utf-16le"},
		{"language fallback", "/subs/legacy.srt", models.MediaProtocolFile, "pol", "windows-1250"},
		{"bibliographic code", "/subs/legacy.srt", models.MediaProtocolFile, "cze", "windows-1250"},
		{"two letter code", "/subs/legacy.srt", models.MediaProtocolFile, "ru", "windows-1251"},
		{"unknown language", "/subs/legacy.srt", models.MediaProtocolFile, "eng", ""},
		{"remote files are not read", "http://x/sub.srt", models.MediaProtocolHTTP, "pol", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.CharacterSet(context.Background(), tt.path, tt.protocol, tt.lang)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCharacterSet_TruncatedMultibyte(t *testing.T) {
	data := bytes.Repeat([]byte("a"), sniffSize-1)
	data = append(data, "ł"...) // two bytes, the second falls past the read window
	svc := newTestService(t, map[string][]byte{"/subs/long.srt": data})

	got, err := svc.CharacterSet(context.Background(), "/subs/long.srt", models.MediaProtocolFile, "pol")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCharacterSet_MissingFile(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.CharacterSet(context.Background(), "/subs/missing.srt", models.MediaProtocolFile, "pol")
	assert.Error(t, err)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "pol", NormalizeLanguage("pl"))
	assert.Equal(t, "pol", NormalizeLanguage("POL"))
	assert.Equal(t, "ell", NormalizeLanguage("gre"))
	assert.Equal(t, "por", NormalizeLanguage("pt-BR"))
	assert.Equal(t, "not a code", NormalizeLanguage("Not a code"))
}

func TestCharsetForLanguage(t *testing.T) {
	assert.Equal(t, "windows-1256", CharsetForLanguage("ara"))
	assert.Equal(t, "windows-1255", CharsetForLanguage("he"))
	assert.Equal(t, "windows-1253", CharsetForLanguage("gre"))
	assert.Equal(t, "windows-1254", CharsetForLanguage("tur"))
	assert.Equal(t, "windows-1258", CharsetForLanguage("vie"))
	assert.Equal(t, "cp949", CharsetForLanguage("kor"))
	assert.Empty(t, CharsetForLanguage(""))
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/media/a\:b.srt`, EscapeFilterPath("/media/a:b.srt"))
	assert.Equal(t, `C\:/x/y.ass`, EscapeFilterPath(`C:\x\y.ass`))
	assert.Equal(t, `/m/it'\\\''s.srt`, EscapeFilterPath("/m/it's.srt"))
}
