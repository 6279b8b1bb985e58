package torrent

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// contentWatcher signals on C whenever a file or folder appears below path.
// Signals are coalesced, a pending one is never duplicated.
type contentWatcher struct {
	path string
	w    *fsnotify.Watcher
	C    chan struct{}

	log zerolog.Logger
}

func newContentWatcher(path string, l zerolog.Logger) (*contentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &contentWatcher{
		path: path,
		w:    w,
		C:    make(chan struct{}, 1),
		log:  l,
	}

	// Add all existing subdirectories
	if err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsDir() {
			return w.Add(p)
		}
		return nil
	}); err != nil {
		w.Close()
		return nil, err
	}

	go cw.loop()

	return cw, nil
}

func (cw *contentWatcher) loop() {
	for {
		select {
		case event, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			// Add newly created directories to watcher
			fi, err := os.Stat(event.Name)
			if err == nil && fi.IsDir() {
				_ = cw.w.Add(event.Name)
			}
			select {
			case cw.C <- struct{}{}:
			default:
			}
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.log.Warn().Err(err).Str("path", cw.path).Msg("watcher error")
		}
	}
}

func (cw *contentWatcher) Close() error {
	if cw == nil || cw.w == nil {
		return nil
	}
	return cw.w.Close()
}
