// Package media holds the normalised webhook events produced by Radarr and
// Sonarr, independent of their wire format.
package media

import "fmt"

type Type string

const (
	TypeMovie  Type = "movie"
	TypeSeries Type = "series"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindTest
	KindGrab
	KindDownload
	KindDelete
	KindRename
)

func (k Kind) String() string {
	switch k {
	case KindTest:
		return "test"
	case KindGrab:
		return "grab"
	case KindDownload:
		return "download"
	case KindDelete:
		return "delete"
	case KindRename:
		return "rename"
	}
	return "unknown"
}

// Item is the part of a movie or a series the download monitor relies on.
type Item interface {
	Title() string
	Folder() string
	// ID is the catalog id assigned by the *arr application, 0 when unknown.
	ID() int
	Type() Type
}

var (
	_ Item = &Movie{}
	_ Item = &Series{}
)

type Movie struct {
	MovieID int
	Name    string
	Year    int
	Path    string
	TmdbID  int
	ImdbID  string
}

func (m *Movie) Title() string {
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d)", m.Name, m.Year)
	}
	return m.Name
}

func (m *Movie) Folder() string { return m.Path }
func (m *Movie) ID() int        { return m.MovieID }
func (m *Movie) Type() Type     { return TypeMovie }

type Episode struct {
	Season int
	Number int
	Title  string
}

type Series struct {
	SeriesID int
	Name     string
	Path     string
	TvdbID   int
	Episodes []Episode
}

// Title renders "Series - S01E02", with a "(+N)" suffix when the event
// covers more than one episode.
func (s *Series) Title() string {
	if len(s.Episodes) == 0 {
		return s.Name
	}

	e := s.Episodes[0]
	t := fmt.Sprintf("%s - S%02dE%02d", s.Name, e.Season, e.Number)
	if len(s.Episodes) > 1 {
		t = fmt.Sprintf("%s (+%d)", t, len(s.Episodes)-1)
	}
	return t
}

func (s *Series) Folder() string { return s.Path }
func (s *Series) ID() int        { return s.SeriesID }
func (s *Series) Type() Type     { return TypeSeries }

// Event is a webhook notification after parsing.
type Event struct {
	Kind Kind
	// Name is the raw eventType sent by the application.
	Name string

	Instance       string
	DownloadID     string
	DownloadClient string
	Upgrade        bool

	// Media is either *Movie or *Series, nil for events without media (Test).
	Media Item
}

func (e *Event) Title() string {
	if e.Media == nil {
		return "Unknown Media"
	}
	return e.Media.Title()
}

func (e *Event) String() string {
	return fmt.Sprintf("%s - %s", e.Name, e.Title())
}
