package torrent

import (
	"strings"

	"github.com/cehbz/torrentname"
)

// Release is what can be read from a release name like
// "Show.Name.S01E02.1080p.WEB.h264-GROUP".
type Release struct {
	Title      string `json:"title"`
	Year       int    `json:"year,omitempty"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Source     string `json:"source,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// ParseRelease returns nil for empty names or names nothing could be read from.
func ParseRelease(name string) *Release {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	p := torrentname.Parse(name)
	if p == nil || p.Title == "" {
		return nil
	}

	return &Release{
		Title:      p.Title,
		Year:       p.Year,
		Season:     p.Season,
		Episode:    p.Episode,
		Resolution: p.Resolution,
		Source:     p.Source,
		Codec:      p.Codec,
	}
}
