package fs

import (
	"path/filepath"
	"strings"
)

const DefaultMinSize = 10 << 20

var (
	DefaultMediaExtensions    = []string{".mkv", ".mp4", ".avi", ".mov", ".m4v"}
	DefaultSubtitleExtensions = []string{".srt", ".sub", ".idx", ".ass"}
)

// MediaFilter decides which files found on disk are worth linking when the
// torrent client did not provide the file list.
type MediaFilter struct {
	MinSize   int64
	media     map[string]struct{}
	subtitles map[string]struct{}
}

func NewMediaFilter(minSize int64, media, subtitles []string) *MediaFilter {
	if len(media) == 0 {
		media = DefaultMediaExtensions
	}
	if len(subtitles) == 0 {
		subtitles = DefaultSubtitleExtensions
	}

	return &MediaFilter{
		MinSize:   minSize,
		media:     extSet(media),
		subtitles: extSet(subtitles),
	}
}

// Accept reports whether the file should be linked. Media files must be
// larger than MinSize, subtitles are accepted regardless of their size.
func (f *MediaFilter) Accept(name string, size int64) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := f.subtitles[ext]; ok {
		return true
	}
	if _, ok := f.media[ext]; ok {
		return size > f.MinSize
	}
	return false
}

func extSet(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}
