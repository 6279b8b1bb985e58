package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/linkarr/media"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config", "torrents.json")
	s, err := Open(afero.NewOsFs(), p)
	require.NoError(t, err)
	return s, p
}

func TestStorePutGetDelete(t *testing.T) {
	require := require.New(t)

	s, p := newTestStore(t)

	r := &Record{
		MediaID:     42,
		MediaTitle:  "Heat",
		MediaPath:   "/lib/Heat (1995)",
		TorrentPath: "/downloads/Heat.1995.1080p",
		MediaType:   media.TypeMovie,
	}
	require.NoError(s.Put("abc123", r))

	got, ok := s.Get("abc123")
	require.True(ok)
	require.Equal("Heat", got.MediaTitle)
	require.False(got.AddedDate.IsZero())

	reopened, err := Open(afero.NewOsFs(), p)
	require.NoError(err)
	got, ok = reopened.Get("abc123")
	require.True(ok)
	require.Equal(42, got.MediaID)
	require.Equal("/downloads/Heat.1995.1080p", got.TorrentPath)

	deleted, err := s.Delete("abc123")
	require.NoError(err)
	require.True(deleted)

	deleted, err = s.Delete("abc123")
	require.NoError(err)
	require.False(deleted)

	reopened, err = Open(afero.NewOsFs(), p)
	require.NoError(err)
	require.Equal(0, reopened.Len())
}

func TestStoreCorruptedSnapshot(t *testing.T) {
	require := require.New(t)

	p := filepath.Join(t.TempDir(), "torrents.json")
	require.NoError(os.WriteFile(p, []byte(`{"abc123": {"media_id": 4`), 0644))

	s, err := Open(afero.NewOsFs(), p)
	require.NoError(err)
	require.Equal(0, s.Len())

	require.NoError(s.Put("def456", &Record{MediaID: 7, MediaType: media.TypeSeries}))

	b, err := os.ReadFile(p)
	require.NoError(err)
	var decoded map[string]*Record
	require.NoError(json.Unmarshal(b, &decoded))
	require.Len(decoded, 1)
	require.Equal(7, decoded["def456"].MediaID)
}

func TestStoreLeavesNoTemporaryFiles(t *testing.T) {
	require := require.New(t)

	s, p := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(s.Put(id, &Record{MediaID: 1}))
	}
	_, err := s.Delete("b")
	require.NoError(err)

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(err)
	require.Len(entries, 1)
	require.Equal("torrents.json", entries[0].Name())
}

func TestStoreWriteFailureKeepsMemory(t *testing.T) {
	require := require.New(t)

	s, p := newTestStore(t)
	require.NoError(s.Put("a", &Record{MediaID: 1}))

	s.fs = afero.NewReadOnlyFs(afero.NewOsFs())
	require.Error(s.Put("b", &Record{MediaID: 2}))

	_, ok := s.Get("b")
	require.True(ok)

	reopened, err := Open(afero.NewOsFs(), p)
	require.NoError(err)
	_, ok = reopened.Get("b")
	require.False(ok)
}

func TestStoreByMedia(t *testing.T) {
	require := require.New(t)

	s, _ := newTestStore(t)
	require.NoError(s.Put("h2", &Record{MediaID: 10, MediaType: media.TypeMovie}))
	require.NoError(s.Put("h1", &Record{MediaID: 10, MediaType: media.TypeMovie}))
	require.NoError(s.Put("h3", &Record{MediaID: 10, MediaType: media.TypeSeries}))
	require.NoError(s.Put("h4", &Record{MediaID: 11, MediaType: media.TypeMovie}))

	require.Equal([]string{"h1", "h2"}, s.ByMedia(media.TypeMovie, 10))
	require.Equal([]string{"h1", "h2", "h3"}, s.ByMedia("", 10))
	require.Empty(s.ByMedia(media.TypeMovie, 99))
}

func TestStoreCopiesRecords(t *testing.T) {
	require := require.New(t)

	s, _ := newTestStore(t)
	r := &Record{MediaTitle: "before"}
	require.NoError(s.Put("a", r))
	r.MediaTitle = "after"

	got, _ := s.Get("a")
	require.Equal("before", got.MediaTitle)

	all := s.All()
	all["a"].MediaTitle = "mutated"
	got, _ = s.Get("a")
	require.Equal("before", got.MediaTitle)
}
