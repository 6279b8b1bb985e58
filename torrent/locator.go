package torrent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var errFound = errors.New("found")

// DownloadFile is a file that belongs to a download. RelPath is the path the
// file gets below the library folder.
type DownloadFile struct {
	RelPath  string   `json:"relative_path"`
	AbsPath  string   `json:"absolute_path"`
	Size     int64    `json:"size"`
	Progress *float64 `json:"progress,omitempty"`
	// FromService is set when the torrent client listed the file itself.
	FromService bool `json:"from_service"`
}

// Locator finds where a download lives, asking the torrent client first and
// searching the downloads folder when the client can't help.
type Locator struct {
	svc  TorrentService
	fs   afero.Fs
	root string

	fallbackToRoot bool

	log zerolog.Logger
}

// NewLocator builds a locator. svc may be nil when no torrent client is
// configured.
func NewLocator(svc TorrentService, fs afero.Fs, root string, fallbackToRoot bool) *Locator {
	return &Locator{
		svc:            svc,
		fs:             fs,
		root:           root,
		fallbackToRoot: fallbackToRoot,
		log:            log.Logger.With().Str("component", "locator").Logger(),
	}
}

func (l *Locator) Root() string {
	return l.root
}

// FindContentLocation resolves the folder or file holding the payload of id.
func (l *Locator) FindContentLocation(ctx context.Context, id string) (string, bool) {
	if l.svc != nil {
		if p := l.svc.ContentPath(ctx, id); p != "" {
			l.log.Debug().Str("id", id).Str("path", p).Msg("found download path via torrent client")
			return p, true
		}

		// usually a magnet still fetching metadata; its save path is shared
		// with other torrents
		if _, info := l.svc.Status(ctx, id); info != nil {
			l.log.Debug().Str("id", id).Msg("torrent known without content path yet")
			return "", false
		}
	}

	return l.search(id)
}

func (l *Locator) search(id string) (string, bool) {
	if id == "" {
		return "", false
	}

	for _, name := range []string{id, strings.ToLower(id)} {
		p := filepath.Join(l.root, name)
		if ok, _ := afero.IsDir(l.fs, p); ok {
			l.log.Info().Str("id", id).Str("path", p).Msg("found download by direct match")
			return p, true
		}
	}

	needle := strings.ToLower(id)
	var file, dir string
	err := afero.Walk(l.fs, l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == l.root {
				return err
			}
			return nil
		}
		if p == l.root {
			return nil
		}
		if !strings.Contains(strings.ToLower(info.Name()), needle) {
			return nil
		}
		if !info.IsDir() {
			file = p
			return errFound
		}
		if dir == "" {
			dir = p
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		l.log.Error().Err(err).Str("id", id).Str("root", l.root).Msg("error searching downloads folder")
		return "", false
	}

	switch {
	case file != "":
		l.log.Info().Str("id", id).Str("path", file).Msg("found download file by partial match")
		return file, true
	case dir != "":
		l.log.Info().Str("id", id).Str("path", dir).Msg("found download folder by partial match")
		return dir, true
	case l.fallbackToRoot:
		l.log.Warn().Str("id", id).Str("path", l.root).Msg("no match for download, using downloads folder")
		return l.root, true
	}

	l.log.Warn().Str("id", id).Str("root", l.root).Msg("could not locate download")
	return "", false
}

// ListDownloadFiles lists the files of id that are present on disk.
func (l *Locator) ListDownloadFiles(ctx context.Context, id string) []DownloadFile {
	if files, ok := l.serviceFiles(ctx, id); ok {
		return files
	}

	loc, ok := l.FindContentLocation(ctx, id)
	if !ok {
		return nil
	}

	return l.walk(loc)
}

// listFiles is ListDownloadFiles for callers that already resolved the location.
func (l *Locator) listFiles(ctx context.Context, id, location string) []DownloadFile {
	if files, ok := l.serviceFiles(ctx, id); ok {
		return files
	}

	return l.walk(location)
}

// IsComplete is false whenever the torrent client can't confirm completion.
func (l *Locator) IsComplete(ctx context.Context, id string) bool {
	if l.svc == nil {
		return false
	}

	completed, _ := l.svc.Status(ctx, id)
	return completed
}

// serviceFiles returns the client file list resolved against the save path.
// ok is false when the client had no list to offer.
func (l *Locator) serviceFiles(ctx context.Context, id string) ([]DownloadFile, bool) {
	if l.svc == nil {
		return nil, false
	}

	tf := l.svc.Files(ctx, id)
	if len(tf) == 0 {
		return nil, false
	}

	_, info := l.svc.Status(ctx, id)
	if info == nil || info.SavePath == "" {
		return nil, false
	}

	out := make([]DownloadFile, 0, len(tf))
	for _, f := range tf {
		name := filepath.FromSlash(f.Name)
		rel := name
		abs := name
		if filepath.IsAbs(name) {
			rel = filepath.Base(name)
		} else {
			abs = filepath.Join(info.SavePath, name)
		}

		fi, err := l.fs.Stat(abs)
		if err != nil && info.DownloadPath != "" && !filepath.IsAbs(name) {
			alt := filepath.Join(info.DownloadPath, name)
			if afi, aerr := l.fs.Stat(alt); aerr == nil {
				abs, fi, err = alt, afi, nil
			}
		}
		if err != nil {
			l.log.Debug().Str("id", id).Str("file", abs).Msg("file not on disk yet")
			continue
		}
		if fi.IsDir() {
			continue
		}

		out = append(out, DownloadFile{
			RelPath:     rel,
			AbsPath:     abs,
			Size:        f.Size,
			Progress:    f.Progress,
			FromService: true,
		})
	}

	return out, true
}

func (l *Locator) walk(location string) []DownloadFile {
	fi, err := l.fs.Stat(location)
	if err != nil {
		l.log.Warn().Err(err).Str("path", location).Msg("download location not readable")
		return nil
	}

	if !fi.IsDir() {
		return []DownloadFile{{
			RelPath: filepath.Base(location),
			AbsPath: location,
			Size:    fi.Size(),
		}}
	}

	var out []DownloadFile
	err = afero.Walk(l.fs, location, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			l.log.Debug().Err(err).Str("path", p).Msg("skipping unreadable path")
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(location, p)
		if err != nil {
			return nil
		}

		out = append(out, DownloadFile{RelPath: rel, AbsPath: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		l.log.Error().Err(err).Str("path", location).Msg("error walking download location")
	}

	return out
}
