package http

import (
	"encoding/json"
	"fmt"

	"github.com/jkaberg/linkarr/media"
)

type Error struct {
	Error string `json:"error"`
}

type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	sourceRadarr = "radarr"
	sourceSonarr = "sonarr"
)

// payload holds the fields shared by Radarr and Sonarr webhooks plus the
// media objects of both, only one of them is set on a given request.
type payload struct {
	EventType      string `json:"eventType"`
	InstanceName   string `json:"instanceName"`
	DownloadClient string `json:"downloadClient"`
	DownloadID     string `json:"downloadId"`
	IsUpgrade      bool   `json:"isUpgrade"`

	Release *struct {
		Quality      string `json:"quality"`
		ReleaseTitle string `json:"releaseTitle"`
	} `json:"release"`

	Movie       *radarrMovie `json:"movie"`
	RemoteMovie *radarrMovie `json:"remoteMovie"`

	Series        *sonarrSeries   `json:"series"`
	Episodes      []sonarrEpisode `json:"episodes"`
	RemoteEpisode *struct {
		Series *sonarrSeries `json:"series"`
	} `json:"remoteEpisode"`
}

type radarrMovie struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
	FolderPath string `json:"folderPath"`
	TmdbID     int    `json:"tmdbId"`
	ImdbID     string `json:"imdbId"`
}

type sonarrSeries struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	FolderPath string `json:"folderPath"`
	Path       string `json:"path"`
	TvdbID     int    `json:"tvdbId"`
}

type sonarrEpisode struct {
	EpisodeNumber int    `json:"episodeNumber"`
	SeasonNumber  int    `json:"seasonNumber"`
	Title         string `json:"title"`
}

func parsePayload(b []byte) (*payload, error) {
	p := &payload{}
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("error decoding webhook payload: %w", err)
	}
	return p, nil
}

// detectSource guesses the sending application from the media objects.
func (p *payload) detectSource() string {
	switch {
	case p.Movie != nil || p.RemoteMovie != nil:
		return sourceRadarr
	case p.Series != nil || p.RemoteEpisode != nil || len(p.Episodes) > 0:
		return sourceSonarr
	}
	return ""
}

func (p *payload) event(source string) *media.Event {
	ev := &media.Event{
		Kind:           kind(source, p.EventType),
		Name:           p.EventType,
		Instance:       p.InstanceName,
		DownloadID:     p.DownloadID,
		DownloadClient: p.DownloadClient,
		Upgrade:        p.IsUpgrade,
	}

	switch source {
	case sourceRadarr:
		if m := p.movie(ev.Kind); m != nil {
			ev.Media = m
		}
	case sourceSonarr:
		if s := p.series(); s != nil {
			ev.Media = s
		}
	}

	return ev
}

func (p *payload) movie(k media.Kind) *media.Movie {
	if p.Movie == nil && p.RemoteMovie == nil {
		return nil
	}

	m := &media.Movie{}
	if p.Movie != nil {
		m.MovieID = p.Movie.ID
		m.Name = p.Movie.Title
		m.Year = p.Movie.Year
		m.Path = p.Movie.FolderPath
		m.TmdbID = p.Movie.TmdbID
		m.ImdbID = p.Movie.ImdbID
	}

	// grabs are named after the release Radarr picked
	if k == media.KindGrab && p.RemoteMovie != nil && p.RemoteMovie.Title != "" {
		m.Name = p.RemoteMovie.Title
		if p.RemoteMovie.Year > 0 {
			m.Year = p.RemoteMovie.Year
		}
	}

	if m.Name == "" {
		m.Name = "Unknown Movie"
	}

	return m
}

func (p *payload) series() *media.Series {
	src := p.Series
	if src == nil && p.RemoteEpisode != nil {
		src = p.RemoteEpisode.Series
	}
	if src == nil {
		return nil
	}

	s := &media.Series{
		SeriesID: src.ID,
		Name:     src.Title,
		Path:     src.FolderPath,
		TvdbID:   src.TvdbID,
	}
	if s.Path == "" {
		s.Path = src.Path
	}
	if s.Name == "" {
		s.Name = "Unknown Series"
	}

	for _, e := range p.Episodes {
		s.Episodes = append(s.Episodes, media.Episode{
			Season: e.SeasonNumber,
			Number: e.EpisodeNumber,
			Title:  e.Title,
		})
	}

	return s
}

func kind(source, eventType string) media.Kind {
	switch eventType {
	case "Test":
		return media.KindTest
	case "Grab":
		return media.KindGrab
	case "Download":
		return media.KindDownload
	case "Rename":
		return media.KindRename
	}

	switch source {
	case sourceRadarr:
		if eventType == "MovieDelete" || eventType == "MovieFileDelete" {
			return media.KindDelete
		}
	case sourceSonarr:
		if eventType == "SeriesDelete" || eventType == "EpisodeFileDelete" {
			return media.KindDelete
		}
	}

	return media.KindUnknown
}
