package torrent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/linkarr/fs"
	"github.com/jkaberg/linkarr/media"
	"github.com/jkaberg/linkarr/torrent/store"
)

const (
	defaultInterval     = 60 * time.Second
	defaultRetryBackoff = 30 * time.Second
	defaultSettle       = 5 * time.Second
	defaultMaxChecks    = 100

	deleteParallelism = 4
)

type Option func(*Monitor)

func WithFilter(f *fs.MediaFilter) Option {
	return func(m *Monitor) {
		m.filter = f
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(m *Monitor) {
		m.retryBackoff = d
	}
}

func WithMaxChecks(n int) Option {
	return func(m *Monitor) {
		m.maxChecks = n
	}
}

// WithWatch enables filesystem nudges. New files trigger an extra sync pass
// once no other file has shown up for settle.
func WithWatch(settle time.Duration) Option {
	return func(m *Monitor) {
		m.watch = true
		m.settle = settle
	}
}

func WithDeleteFiles(v bool) Option {
	return func(m *Monitor) {
		m.deleteFiles = v
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// Monitor drives one polling goroutine per grabbed download, linking files
// into the library folder as they show up.
type Monitor struct {
	reg    *Registry
	loc    *Locator
	linker *fs.Linker
	filter *fs.MediaFilter
	store  *store.Store

	notifier Notifier

	interval     time.Duration
	retryBackoff time.Duration
	settle       time.Duration
	maxChecks    int
	watch        bool
	deleteFiles  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger
}

func NewMonitor(reg *Registry, loc *Locator, linker *fs.Linker, st *store.Store, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		reg:          reg,
		loc:          loc,
		linker:       linker,
		store:        st,
		interval:     defaultInterval,
		retryBackoff: defaultRetryBackoff,
		settle:       defaultSettle,
		maxChecks:    defaultMaxChecks,
		deleteFiles:  true,
		ctx:          ctx,
		cancel:       cancel,
		log:          log.Logger.With().Str("component", "monitor").Logger(),
	}

	for _, o := range opts {
		o(m)
	}

	if m.filter == nil {
		m.filter = fs.NewMediaFilter(fs.DefaultMinSize, nil, nil)
	}
	if m.maxChecks <= 0 {
		m.maxChecks = defaultMaxChecks
	}

	return m
}

// AcceptGrab starts monitoring the download of ev. It returns false when the
// event is incomplete, the library folder can't be created or the download
// is already monitored.
func (m *Monitor) AcceptGrab(ctx context.Context, ev *media.Event) bool {
	if ev == nil || ev.Media == nil {
		m.log.Warn().Msg("grab event without media, ignoring")
		return false
	}

	id := NormalizeID(ev.DownloadID)
	folder := ev.Media.Folder()
	if id == "" || folder == "" || ev.DownloadClient == "" {
		m.log.Warn().
			Str("download_id", id).
			Str("folder", folder).
			Str("client", ev.DownloadClient).
			Msg("grab event is missing required fields")
		return false
	}

	if _, ok := m.reg.Get(id); ok {
		m.log.Info().Str("download_id", id).Msg("download already monitored")
		return false
	}

	if err := os.MkdirAll(folder, 0755); err != nil {
		m.log.Error().Err(err).Str("folder", folder).Msg("error creating library folder")
		return false
	}

	s := NewSession(id, ev)
	l := m.sessionLog(s)
	l.Info().Str("folder", folder).Msg("starting download monitor")

	if loc, ok := m.resolve(ctx, s); ok {
		m.sync(ctx, s, loc)
		s.touch()
	}

	if m.loc.IsComplete(ctx, id) {
		l.Info().Int("files", len(s.ProcessedFiles())).Msg("download already complete")
		m.finish(ctx, s, StateCompleted, string(StateCompleted))
		return true
	}

	if !m.reg.Add(s) {
		l.Info().Msg("download already monitored")
		return false
	}

	s.setState(StatePolling)

	m.wg.Add(1)
	go m.run(s)

	return true
}

// AcceptCompletion stops the session of ev, if any.
func (m *Monitor) AcceptCompletion(ev *media.Event) bool {
	if ev == nil {
		return false
	}

	id := NormalizeID(ev.DownloadID)
	s, ok := m.reg.Get(id)
	if !ok {
		m.log.Debug().Str("download_id", id).Msg("no session for completed download")
		return false
	}

	m.sessionLog(s).Info().Msg("download imported, stopping monitor")
	s.Deactivate()
	return true
}

// AcceptDeletion removes every download recorded for the media item of ev
// from the torrent client and the downloads folder. It returns false when
// nothing was recorded or any removal failed.
func (m *Monitor) AcceptDeletion(ctx context.Context, ev *media.Event) bool {
	if ev == nil || ev.Media == nil || ev.Media.ID() == 0 {
		m.log.Warn().Msg("delete event without media id, ignoring")
		return false
	}

	ids := m.store.ByMedia(ev.Media.Type(), ev.Media.ID())
	if len(ids) == 0 {
		m.log.Info().Int("media_id", ev.Media.ID()).Msg("no downloads recorded for media")
		return false
	}

	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(deleteParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if !m.deleteDownload(ctx, id) {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	return !failed.Load()
}

func (m *Monitor) deleteDownload(ctx context.Context, id string) bool {
	rec, ok := m.store.Get(id)
	if !ok {
		return true
	}

	l := m.log.With().Str("download_id", id).Str("title", rec.MediaTitle).Logger()

	if s, ok := m.reg.Get(id); ok {
		s.Deactivate()
	}

	protected := []string{m.loc.Root()}
	success := true
	if m.loc.svc != nil {
		if _, info := m.loc.svc.Status(ctx, id); info != nil {
			protected = append(protected, info.SavePath, info.DownloadPath)
		}
		if !m.loc.svc.Delete(ctx, id, m.deleteFiles) {
			l.Warn().Msg("torrent client did not delete download")
			success = false
		}
	}

	switch {
	case !m.deleteFiles || rec.TorrentPath == "":
	case !removable(rec.TorrentPath, protected):
		l.Warn().Str("path", rec.TorrentPath).Msg("refusing to remove shared download folder")
	default:
		if ok, _ := afero.Exists(m.loc.fs, rec.TorrentPath); ok {
			if err := m.loc.fs.RemoveAll(rec.TorrentPath); err != nil {
				l.Error().Err(err).Str("path", rec.TorrentPath).Msg("error removing download files")
				success = false
			} else {
				l.Info().Str("path", rec.TorrentPath).Msg("removed download files")
			}
		}
	}

	if !success {
		return false
	}

	if _, err := m.store.Delete(id); err != nil {
		l.Warn().Err(err).Msg("error persisting torrent store")
	}

	l.Info().Msg("download deleted")
	return true
}

// removable is false when p is one of the protected folders or one of
// their parents.
func removable(p string, protected []string) bool {
	if p == "" {
		return false
	}

	for _, q := range protected {
		if q != "" && contains(p, q) {
			return false
		}
	}

	return true
}

// contains reports whether p is dir or lies below it.
func contains(dir, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ListActiveSessions returns the monitored downloads enriched with what the
// torrent client currently reports.
func (m *Monitor) ListActiveSessions(ctx context.Context) map[string]*SessionSummary {
	out := m.reg.Snapshot()
	if m.loc.svc == nil {
		return out
	}

	for id, sum := range out {
		_, sum.Torrent = m.loc.svc.Status(ctx, id)
	}

	return out
}

type DownloadView struct {
	DownloadID     string          `json:"download_id"`
	Found          bool            `json:"found"`
	BeingMonitored bool            `json:"being_monitored"`
	Completed      bool            `json:"completed"`
	Session        *SessionSummary `json:"session,omitempty"`
	Record         *store.Record   `json:"record,omitempty"`
	Torrent        *TorrentInfo    `json:"qbittorrent,omitempty"`
	Files          []TorrentFile   `json:"files,omitempty"`
	Release        *Release        `json:"release,omitempty"`
}

// GetSessionOrRecord combines everything known about a download.
func (m *Monitor) GetSessionOrRecord(ctx context.Context, id string) *DownloadView {
	id = NormalizeID(id)
	v := &DownloadView{DownloadID: id}

	if s, ok := m.reg.Get(id); ok {
		v.Session = s.Summary()
		v.BeingMonitored = s.Active()
	}

	if rec, ok := m.store.Get(id); ok {
		v.Record = rec
	}

	if m.loc.svc != nil {
		v.Completed, v.Torrent = m.loc.svc.Status(ctx, id)
		if v.Torrent != nil {
			v.Files = m.loc.svc.Files(ctx, id)
			v.Release = ParseRelease(v.Torrent.Name)
		}
	}

	v.Found = v.Session != nil || v.Record != nil || v.Torrent != nil
	return v
}

// Close stops every polling goroutine and waits for them to exit.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run(s *Session) {
	defer m.wg.Done()

	ctx := m.ctx
	l := m.sessionLog(s)

	var w *contentWatcher
	defer func() {
		if err := w.Close(); err != nil {
			l.Debug().Err(err).Msg("error closing content watcher")
		}
	}()

	final, reason := StateMaxChecksReached, string(StateMaxChecksReached)
	for {
		if ctx.Err() != nil {
			final, reason = StateDeactivated, "shutdown"
			break
		}
		if !s.Active() {
			final, reason = StateDeactivated, string(StateDeactivated)
			break
		}
		if s.Checks() >= m.maxChecks {
			l.Warn().Int("checks", s.Checks()).Msg("max checks reached, stopping monitor")
			break
		}

		check := s.nextCheck()
		l.Debug().Int("check", check).Msg("checking download")

		if m.loc.IsComplete(ctx, s.DownloadID) {
			if loc, ok := m.resolve(ctx, s); ok {
				m.sync(ctx, s, loc)
			}
			s.touch()
			final, reason = StateCompleted, string(StateCompleted)
			break
		}

		loc, ok := m.resolve(ctx, s)
		if !ok {
			l.Debug().Dur("backoff", m.retryBackoff).Msg("download not found yet")
			m.wait(ctx, s, m.retryBackoff, nil, "")
			continue
		}

		m.sync(ctx, s, loc)
		s.touch()

		w = m.watcherFor(s, w, loc)
		m.wait(ctx, s, m.interval, w, loc)
	}

	m.finish(ctx, s, final, reason)
}

// finish moves s to its final state and then to Terminated.
func (m *Monitor) finish(ctx context.Context, s *Session, final State, reason string) {
	s.Deactivate()
	s.setState(final)
	m.reg.Remove(s)

	files := len(s.ProcessedFiles())
	if final == StateCompleted && files > 0 && m.notifier != nil && s.MediaID != 0 {
		nctx := ctx
		if nctx.Err() != nil {
			nctx = context.Background()
		}
		m.notifier.Rescan(nctx, s.MediaType, s.MediaID)
	}

	sessionTerminations.WithLabelValues(reason).Inc()
	s.setState(StateTerminated)

	m.sessionLog(s).Info().
		Str("reason", reason).
		Int("checks", s.Checks()).
		Int("files", files).
		Msg("download monitor finished")
}

// wait sleeps for d or until s is deactivated. Watcher nudges run extra sync
// passes in the meantime.
func (m *Monitor) wait(ctx context.Context, s *Session, d time.Duration, w *contentWatcher, location string) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var nudges <-chan struct{}
	if w != nil {
		nudges = w.C
	}

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-timer.C:
			return
		case <-nudges:
			settle = time.After(m.settle)
		case <-settle:
			settle = nil
			m.sessionLog(s).Debug().Msg("new files detected, syncing")
			m.sync(ctx, s, location)
		}
	}
}

func (m *Monitor) watcherFor(s *Session, cur *contentWatcher, location string) *contentWatcher {
	if !m.watch {
		return nil
	}
	if cur != nil && cur.path == location {
		return cur
	}

	if err := cur.Close(); err != nil {
		m.sessionLog(s).Debug().Err(err).Msg("error closing content watcher")
	}

	fi, err := os.Stat(location)
	if err != nil || !fi.IsDir() {
		return nil
	}

	w, err := newContentWatcher(location, *m.sessionLog(s))
	if err != nil {
		m.sessionLog(s).Warn().Err(err).Str("path", location).Msg("error watching download folder")
		return nil
	}

	return w
}

// resolve finds the content location of s and records the download the
// first time it resolves.
func (m *Monitor) resolve(ctx context.Context, s *Session) (string, bool) {
	loc, ok := m.loc.FindContentLocation(ctx, s.DownloadID)
	if !ok {
		return "", false
	}

	s.setContentPath(loc)

	if m.store != nil && s.markRecorded() {
		err := m.store.Put(s.DownloadID, &store.Record{
			MediaID:     s.MediaID,
			MediaTitle:  s.Title,
			MediaPath:   s.Folder,
			TorrentPath: loc,
			MediaType:   s.MediaType,
		})
		if err != nil {
			m.sessionLog(s).Warn().Err(err).Msg("error persisting torrent store")
		}
	}

	return loc, true
}

// sync links every new file of the download and returns how many were added.
func (m *Monitor) sync(ctx context.Context, s *Session, location string) int {
	l := m.sessionLog(s)

	added := 0
	for _, f := range m.loc.listFiles(ctx, s.DownloadID, location) {
		if s.IsProcessed(f.AbsPath) {
			continue
		}

		if !f.FromService && !m.filter.Accept(f.RelPath, f.Size) {
			l.Debug().Str("file", f.AbsPath).Int64("size", f.Size).Msg("skipping file")
			continue
		}

		method, err := m.linker.Link(f.AbsPath, s.Folder, f.RelPath)
		switch {
		case err == nil:
			s.markProcessed(f.AbsPath)
			filesMaterialized.WithLabelValues(string(method)).Inc()
			added++
			l.Info().Str("file", f.RelPath).Str("method", string(method)).Msg("file linked")
		case errors.Is(err, fs.ErrSourceMissing):
			l.Debug().Str("file", f.AbsPath).Msg("file not available yet")
		default:
			materializeFailures.Inc()
			l.Error().Err(err).Str("file", f.AbsPath).Msg("error linking file")
		}
	}

	return added
}

func (m *Monitor) sessionLog(s *Session) *zerolog.Logger {
	l := m.log.With().
		Str("download_id", s.DownloadID).
		Str("run_id", s.RunID).
		Str("title", s.Title).
		Logger()
	return &l
}
