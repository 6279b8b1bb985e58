// Package qbittorrent implements torrent.TorrentService on top of the
// qBittorrent Web API.
package qbittorrent

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jkaberg/linkarr/config"
	"github.com/jkaberg/linkarr/torrent"
)

var _ torrent.TorrentService = &Client{}

// seedingStates are the states qBittorrent reports once every piece is on disk.
var seedingStates = map[string]struct{}{
	"uploading":  {},
	"pausedUP":   {},
	"stoppedUP":  {},
	"queuedUP":   {},
	"stalledUP":  {},
	"forcedUP":   {},
	"checkingUP": {},
}

// api is the part of the qBittorrent client used here.
type api interface {
	LoginCtx(ctx context.Context) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetFilesInformationCtx(ctx context.Context, hash string) (*qbt.TorrentFiles, error)
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	GetAppVersionCtx(ctx context.Context) (string, error)
}

type Client struct {
	api     api
	limiter *rate.Limiter

	mu       sync.Mutex
	loggedIn bool

	log zerolog.Logger
}

func New(cfg *config.Qbittorrent) *Client {
	c := qbt.NewClient(qbt.Config{
		Host:          cfg.URL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		TLSSkipVerify: cfg.Insecure,
		Timeout:       cfg.TimeoutSeconds,
	})

	return newClient(c, cfg.RequestsPerSecond)
}

func newClient(a api, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &Client{
		api:     a,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.Logger.With().Str("component", "qbittorrent").Logger(),
	}
}

// Version logs in and returns the qBittorrent version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, "version", func(ctx context.Context) error {
		var err error
		v, err = c.api.GetAppVersionCtx(ctx)
		return err
	})
	return v, err
}

func (c *Client) Status(ctx context.Context, id string) (bool, *torrent.TorrentInfo) {
	t := c.get(ctx, id)
	if t == nil {
		return false, nil
	}

	info := toInfo(t)
	return isCompleted(info), info
}

func (c *Client) Files(ctx context.Context, id string) []torrent.TorrentFile {
	var files *qbt.TorrentFiles
	err := c.call(ctx, "files", func(ctx context.Context) error {
		var err error
		files, err = c.api.GetFilesInformationCtx(ctx, id)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("hash", id).Msg("error getting torrent files")
		return nil
	}
	if files == nil {
		return nil
	}

	out := make([]torrent.TorrentFile, 0, len(*files))
	for _, f := range *files {
		p := float64(f.Progress)
		out = append(out, torrent.TorrentFile{
			Name:     f.Name,
			Size:     f.Size,
			Progress: &p,
		})
	}

	return out
}

func (c *Client) ContentPath(ctx context.Context, id string) string {
	t := c.get(ctx, id)
	if t == nil {
		return ""
	}

	return contentPath(toInfo(t))
}

func (c *Client) Delete(ctx context.Context, id string, withFiles bool) bool {
	err := c.call(ctx, "delete", func(ctx context.Context) error {
		return c.api.DeleteTorrentsCtx(ctx, []string{id}, withFiles)
	})
	if err != nil {
		c.log.Error().Err(err).Str("hash", id).Msg("error deleting torrent")
		return false
	}

	c.log.Info().Str("hash", id).Bool("with_files", withFiles).Msg("torrent deleted")
	return true
}

func (c *Client) get(ctx context.Context, id string) *qbt.Torrent {
	if id == "" {
		return nil
	}

	var ts []qbt.Torrent
	err := c.call(ctx, "torrents", func(ctx context.Context) error {
		var err error
		ts, err = c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{id}})
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("hash", id).Msg("error getting torrent")
		return nil
	}
	if len(ts) == 0 {
		return nil
	}

	return &ts[0]
}

// call waits for the rate limiter, logs in when needed and records the
// call latency. A failed call forces a new login on the next one.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		torrent.TorrentAPILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err := c.login(ctx); err != nil {
		torrent.TorrentAPIErrors.WithLabelValues("login").Inc()
		return err
	}

	if err := fn(ctx); err != nil {
		torrent.TorrentAPIErrors.WithLabelValues(op).Inc()
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		return err
	}

	return nil
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loggedIn {
		return nil
	}

	if err := c.api.LoginCtx(ctx); err != nil {
		c.log.Error().Err(err).Msg("error logging into qbittorrent")
		return err
	}

	c.loggedIn = true
	return nil
}

func toInfo(t *qbt.Torrent) *torrent.TorrentInfo {
	return &torrent.TorrentInfo{
		Name:         t.Name,
		Progress:     t.Progress,
		State:        string(t.State),
		Size:         t.Size,
		SavePath:     t.SavePath,
		ContentPath:  t.ContentPath,
		DownloadPath: t.DownloadPath,
	}
}

func isCompleted(info *torrent.TorrentInfo) bool {
	if info.Progress < 1 {
		return false
	}

	_, ok := seedingStates[info.State]
	return ok
}

// contentPath is the torrent content path. It is empty while qBittorrent
// only knows the save or incomplete path, which other torrents share.
func contentPath(info *torrent.TorrentInfo) string {
	if info.ContentPath == "" {
		return ""
	}

	cp := filepath.Clean(info.ContentPath)
	for _, p := range []string{info.SavePath, info.DownloadPath} {
		if p != "" && cp == filepath.Clean(p) {
			return ""
		}
	}

	return info.ContentPath
}
