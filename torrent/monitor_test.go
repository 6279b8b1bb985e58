package torrent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/linkarr/fs"
	"github.com/jkaberg/linkarr/media"
	"github.com/jkaberg/linkarr/torrent/store"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) Rescan(ctx context.Context, t media.Type, id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s/%d", t, id))
}

func (n *fakeNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type env struct {
	dir       string
	downloads string
	lib       string
	reg       *Registry
	store     *store.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	e := &env{
		dir:       dir,
		downloads: filepath.Join(dir, "downloads"),
		lib:       filepath.Join(dir, "lib"),
		reg:       NewRegistry(),
	}
	require.NoError(t, os.MkdirAll(e.downloads, 0755))

	st, err := store.Open(afero.NewOsFs(), filepath.Join(dir, "data", "torrents.json"))
	require.NoError(t, err)
	e.store = st

	return e
}

func (e *env) monitor(t *testing.T, svc TorrentService, opts ...Option) *Monitor {
	t.Helper()

	loc := NewLocator(svc, afero.NewOsFs(), e.downloads, false)
	m := NewMonitor(e.reg, loc, fs.NewLinker("ln"), e.store, opts...)
	t.Cleanup(m.Close)
	return m
}

// sparseFile creates a file of the given size without writing its content.
func sparseFile(t *testing.T, p string, size int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func TestGrabLinksMediaAndSkipsSamples(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	m := e.monitor(t, nil, WithInterval(time.Hour))

	movie := filepath.Join(e.downloads, "abc123", "movie.mkv")
	sparseFile(t, movie, 2<<30)
	sparseFile(t, filepath.Join(e.downloads, "abc123", "sample.mkv"), 10<<20)

	folder := filepath.Join(e.lib, "Movie")
	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	s, ok := e.reg.Get("abc123")
	require.True(ok)
	require.Equal([]string{movie}, s.ProcessedFiles())

	dst := filepath.Join(folder, "movie.mkv")
	fa, err := os.Stat(movie)
	require.NoError(err)
	fb, err := os.Stat(dst)
	require.NoError(err)
	require.True(os.SameFile(fa, fb))

	_, err = os.Stat(filepath.Join(folder, "sample.mkv"))
	require.True(os.IsNotExist(err))

	rec, ok := e.store.Get("abc123")
	require.True(ok)
	require.Equal(42, rec.MediaID)
	require.Equal(filepath.Join(e.downloads, "abc123"), rec.TorrentPath)
	require.Equal(folder, rec.MediaPath)
	require.Equal(media.TypeMovie, rec.MediaType)

	// a second grab for the same download is refused
	require.False(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	require.True(m.AcceptCompletion(&media.Event{Kind: media.KindDownload, DownloadID: "abc123"}))
	require.Eventually(func() bool { return e.reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(func() bool { return s.State() == StateTerminated }, 5*time.Second, 10*time.Millisecond)
	require.False(s.Active())
	require.Equal([]string{movie}, s.ProcessedFiles())
}

func TestGrabAlreadyComplete(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	sparseFile(t, filepath.Join(e.downloads, "Movie.2020", "movie.mkv"), 1024)

	svc := &fakeService{
		completed:   true,
		contentPath: filepath.Join(e.downloads, "Movie.2020"),
		info:        &TorrentInfo{Name: "Movie.2020", Progress: 1, State: "stalledUP", SavePath: e.downloads},
		files:       []TorrentFile{{Name: "Movie.2020/movie.mkv", Size: 1024}},
	}
	n := &fakeNotifier{}
	m := e.monitor(t, svc, WithNotifier(n))

	folder := filepath.Join(e.lib, "Movie")
	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	require.Equal(0, e.reg.Len())
	require.Equal(1, svc.FilesCalls(), "exactly one sync pass")

	_, err := os.Stat(filepath.Join(folder, "Movie.2020", "movie.mkv"))
	require.NoError(err)

	_, ok := e.store.Get("abc123")
	require.True(ok)
	require.Equal([]string{"movie/42"}, n.Calls())
}

func TestCompletionWhilePolling(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	sparseFile(t, filepath.Join(e.downloads, "Show", "ep1.mkv"), 1024)

	svc := &fakeService{
		contentPath: filepath.Join(e.downloads, "Show"),
		info:        &TorrentInfo{Name: "Show", Progress: 0.4, State: "downloading", SavePath: e.downloads},
		files:       []TorrentFile{{Name: "Show/ep1.mkv", Size: 1024}, {Name: "Show/ep2.mkv", Size: 1024}},
	}
	m := e.monitor(t, svc, WithInterval(20*time.Millisecond))

	folder := filepath.Join(e.lib, "Show")
	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	s, ok := e.reg.Get("abc123")
	require.True(ok)
	require.Len(s.ProcessedFiles(), 1)

	sparseFile(t, filepath.Join(e.downloads, "Show", "ep2.mkv"), 1024)
	svc.setCompleted(true)

	require.Eventually(func() bool { return s.State() == StateTerminated }, 5*time.Second, 10*time.Millisecond)
	require.Equal(0, e.reg.Len())
	require.Len(s.ProcessedFiles(), 2)

	_, err := os.Stat(filepath.Join(folder, "Show", "ep2.mkv"))
	require.NoError(err)
}

func TestMaxChecks(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	m := e.monitor(t, nil, WithRetryBackoff(time.Millisecond), WithMaxChecks(3))

	require.True(m.AcceptGrab(context.Background(), grabEvent("nowhere", filepath.Join(e.lib, "Movie"))))

	s, ok := e.reg.Get("nowhere")
	require.True(ok)

	require.Eventually(func() bool { return s.State() == StateTerminated }, 5*time.Second, 10*time.Millisecond)
	require.Equal(3, s.Checks())
	require.False(s.Active())
	require.Equal(0, e.reg.Len())

	_, ok = e.store.Get("nowhere")
	require.False(ok, "unresolved downloads are not recorded")
}

func TestGrabValidation(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	m := e.monitor(t, nil)
	ctx := context.Background()

	folder := filepath.Join(e.lib, "Movie")

	ev := grabEvent("abc123", folder)
	ev.DownloadClient = ""
	require.False(m.AcceptGrab(ctx, ev))

	ev = grabEvent("", folder)
	require.False(m.AcceptGrab(ctx, ev))

	ev = grabEvent("abc123", "")
	require.False(m.AcceptGrab(ctx, ev))

	require.False(m.AcceptGrab(ctx, &media.Event{Kind: media.KindGrab, DownloadID: "abc123", DownloadClient: "qBittorrent"}))

	_, err := os.Stat(folder)
	require.True(os.IsNotExist(err))
	require.Equal(0, e.reg.Len())
}

func TestCompletionWithoutSession(t *testing.T) {
	e := newEnv(t)
	m := e.monitor(t, nil)

	require.False(t, m.AcceptCompletion(&media.Event{Kind: media.KindDownload, DownloadID: "unknown"}))
	require.False(t, m.AcceptCompletion(nil))
}

func TestShutdownStopsSessions(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	loc := NewLocator(nil, afero.NewOsFs(), e.downloads, false)
	m := NewMonitor(e.reg, loc, fs.NewLinker("ln"), e.store, WithRetryBackoff(time.Hour))

	require.True(m.AcceptGrab(context.Background(), grabEvent("nowhere", filepath.Join(e.lib, "Movie"))))
	s, ok := e.reg.Get("nowhere")
	require.True(ok)

	m.Close()

	require.Equal(StateTerminated, s.State())
	require.Equal(0, e.reg.Len())
}

func TestAcceptDeletion(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	svc := &fakeService{}
	m := e.monitor(t, svc)

	one := filepath.Join(e.downloads, "one")
	two := filepath.Join(e.downloads, "two.mkv")
	sparseFile(t, filepath.Join(one, "movie.mkv"), 10)
	sparseFile(t, two, 10)

	require.NoError(e.store.Put("aaa", &store.Record{MediaID: 42, MediaType: media.TypeMovie, TorrentPath: one}))
	require.NoError(e.store.Put("bbb", &store.Record{MediaID: 42, MediaType: media.TypeMovie, TorrentPath: two}))
	require.NoError(e.store.Put("ccc", &store.Record{MediaID: 42, MediaType: media.TypeMovie, TorrentPath: e.downloads}))
	require.NoError(e.store.Put("ddd", &store.Record{MediaID: 43, MediaType: media.TypeMovie, TorrentPath: one}))

	del := func(id int) *media.Event {
		return &media.Event{Kind: media.KindDelete, Name: "MovieDelete", Media: &media.Movie{MovieID: id, Name: "Movie"}}
	}

	require.False(m.AcceptDeletion(context.Background(), del(99)))
	require.False(m.AcceptDeletion(context.Background(), del(0)))
	require.Equal(4, e.store.Len())

	require.True(m.AcceptDeletion(context.Background(), del(42)))
	require.Equal([]string{"aaa", "bbb", "ccc"}, svc.Deleted())

	_, err := os.Stat(one)
	require.True(os.IsNotExist(err))
	_, err = os.Stat(two)
	require.True(os.IsNotExist(err))
	_, err = os.Stat(e.downloads)
	require.NoError(err, "the downloads folder is never removed")

	require.Equal(1, e.store.Len())
	_, ok := e.store.Get("ddd")
	require.True(ok)
}

func TestAcceptDeletionKeepsRecordOnFailure(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	svc := &fakeService{deleteFails: true}
	m := e.monitor(t, svc, WithDeleteFiles(false))

	require.NoError(e.store.Put("aaa", &store.Record{MediaID: 7, MediaType: media.TypeSeries}))

	ev := &media.Event{Kind: media.KindDelete, Name: "SeriesDelete", Media: &media.Series{SeriesID: 7, Name: "Show"}}
	require.False(m.AcceptDeletion(context.Background(), ev))

	_, ok := e.store.Get("aaa")
	require.True(ok)
}

func TestTorrentWithoutContentPath(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	category := filepath.Join(e.downloads, "radarr")
	other := filepath.Join(category, "Other.Movie.2019", "other.mkv")
	sparseFile(t, other, 2<<30)

	// a magnet still fetching metadata: known, no content path yet
	svc := &fakeService{info: &TorrentInfo{Name: "abc123", State: "metaDL", SavePath: category}}
	m := e.monitor(t, svc, WithRetryBackoff(time.Millisecond), WithMaxChecks(3))

	folder := filepath.Join(e.lib, "Movie")
	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	s, ok := e.reg.Get("abc123")
	require.True(ok)
	require.Eventually(func() bool { return s.State() == StateTerminated }, 5*time.Second, 10*time.Millisecond)

	require.Empty(s.ProcessedFiles())
	_, ok = e.store.Get("abc123")
	require.False(ok)
	entries, err := os.ReadDir(folder)
	require.NoError(err)
	require.Empty(entries)

	// records pointing at shared folders never remove them
	require.NoError(e.store.Put("abc123", &store.Record{MediaID: 42, MediaType: media.TypeMovie, TorrentPath: category}))
	require.NoError(e.store.Put("def456", &store.Record{MediaID: 42, MediaType: media.TypeMovie, TorrentPath: e.dir}))

	ev := &media.Event{Kind: media.KindDelete, Name: "MovieDelete", Media: &media.Movie{MovieID: 42, Name: "Movie"}}
	require.True(m.AcceptDeletion(context.Background(), ev))
	require.Equal([]string{"abc123", "def456"}, svc.Deleted())

	_, err = os.Stat(other)
	require.NoError(err)
	require.Equal(0, e.store.Len())
}

func TestRemovable(t *testing.T) {
	require := require.New(t)

	protected := []string{"/downloads", "/downloads/radarr", ""}

	require.True(removable("/downloads/radarr/Movie.2020", protected))
	require.True(removable("/downloads/radarr-old", protected))
	require.False(removable("/downloads/radarr", protected))
	require.False(removable("/downloads/radarr/", protected))
	require.False(removable("/downloads", protected))
	require.False(removable("/", protected))
	require.False(removable("", protected))
}

func TestWatcherTriggersSync(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	require.NoError(os.MkdirAll(filepath.Join(e.downloads, "abc123"), 0755))

	m := e.monitor(t, nil, WithInterval(time.Hour), WithWatch(10*time.Millisecond))

	folder := filepath.Join(e.lib, "Movie")
	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", folder)))

	s, ok := e.reg.Get("abc123")
	require.True(ok)
	require.Empty(s.ProcessedFiles())

	i := 0
	require.Eventually(func() bool {
		i++
		sparseFile(t, filepath.Join(e.downloads, "abc123", fmt.Sprintf("part%d.mkv", i)), 20<<20)
		return len(s.ProcessedFiles()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(1, s.Checks(), "nudged passes do not count as checks")
}

func TestStatusViews(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	svc := &fakeService{info: &TorrentInfo{Name: "Show.Name.S01E02.1080p.WEB.h264-GROUP", State: "downloading"}}
	m := e.monitor(t, svc, WithInterval(time.Hour), WithRetryBackoff(time.Hour))

	require.True(m.AcceptGrab(context.Background(), grabEvent("abc123", filepath.Join(e.lib, "Show"))))

	active := m.ListActiveSessions(context.Background())
	require.Len(active, 1)
	require.NotNil(active["abc123"].Torrent)
	require.Equal("downloading", active["abc123"].Torrent.State)

	v := m.GetSessionOrRecord(context.Background(), "abc123")
	require.True(v.Found)
	require.True(v.BeingMonitored)
	require.NotNil(v.Session)
	require.Nil(v.Record, "a torrent without content path is not recorded")
	require.NotNil(v.Release)
	require.Equal(1, v.Release.Season)

	svc.mu.Lock()
	svc.info = nil
	svc.mu.Unlock()

	v = m.GetSessionOrRecord(context.Background(), "unknown")
	require.False(v.Found)
}
