package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func sameFile(t *testing.T, a, b string) bool {
	t.Helper()
	fa, err := os.Stat(a)
	require.NoError(t, err)
	fb, err := os.Stat(b)
	require.NoError(t, err)
	return os.SameFile(fa, fb)
}

func TestMaterializeIdempotent(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "downloads", "abc123", "movie.mkv")
	writeFile(t, src, "movie")
	lib := filepath.Join(dir, "lib", "Movie")

	l := NewLinker("ln")
	require.True(l.Materialize(src, lib, "movie.mkv"))
	require.True(l.Materialize(src, lib, "movie.mkv"))

	dst := filepath.Join(lib, "movie.mkv")
	require.True(sameFile(t, src, dst))

	entries, err := os.ReadDir(lib)
	require.NoError(err)
	require.Len(entries, 1)

	m, err := l.Link(src, lib, "movie.mkv")
	require.NoError(err)
	require.Equal(MethodExisting, m)
}

func TestLinkKeepsStructure(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "dl", "Show.S01", "Subs", "e01.srt")
	writeFile(t, src, "sub")
	lib := filepath.Join(dir, "lib")

	m, err := NewLinker("").Link(src, lib, filepath.Join("Show.S01", "Subs", "e01.srt"))
	require.NoError(err)
	require.Equal(MethodHardlink, m)
	require.FileExists(filepath.Join(lib, "Show.S01", "Subs", "e01.srt"))
}

func TestLinkFallsBackToCommand(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	writeFile(t, src, "data")

	l := NewLinker("ln")
	l.link = func(_, _ string) error { return errors.New("invalid cross-device link") }
	var called []string
	l.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		called = append([]string{name}, args...)
		return nil, os.Link(args[0], args[1])
	}

	m, err := l.Link(src, filepath.Join(dir, "lib"), "src.mkv")
	require.NoError(err)
	require.Equal(MethodCommand, m)
	require.Equal([]string{"ln", src, filepath.Join(dir, "lib", "src.mkv")}, called)
}

func TestLinkFallsBackToCopy(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	writeFile(t, src, "payload")

	l := NewLinker("ln")
	l.link = func(_, _ string) error { return errors.New("invalid cross-device link") }
	l.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("ln: failed"), errors.New("exit status 1")
	}

	lib := filepath.Join(dir, "lib")
	require.True(l.Materialize(src, lib, "src.mkv"))

	dst := filepath.Join(lib, "src.mkv")
	b, err := os.ReadFile(dst)
	require.NoError(err)
	require.Equal("payload", string(b))
	require.False(sameFile(t, src, dst))

	entries, err := os.ReadDir(lib)
	require.NoError(err)
	require.Len(entries, 1, "no temporary files left behind")
}

func TestLinkSourceMissing(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	l := NewLinker("ln")
	l.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("link command must not run for a missing source")
		return nil, nil
	}

	_, err := l.Link(filepath.Join(dir, "missing.mkv"), filepath.Join(dir, "lib"), "missing.mkv")
	require.ErrorIs(err, ErrSourceMissing)
	require.NoFileExists(filepath.Join(dir, "lib", "missing.mkv"))
}

func TestLinkRejectsEscapingPath(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.mkv")
	writeFile(t, src, "data")

	l := NewLinker("ln")
	require.False(l.Materialize(src, filepath.Join(dir, "lib"), "../outside.mkv"))
	require.NoFileExists(filepath.Join(dir, "outside.mkv"))

	_, err := l.Link(src, "", "src.mkv")
	require.ErrorIs(err, ErrUnsafePath)
}

func TestMediaFilter(t *testing.T) {
	require := require.New(t)

	f := NewMediaFilter(10<<20, []string{".mkv", "mp4"}, []string{".srt"})

	require.True(f.Accept("movie.mkv", 2<<30))
	require.True(f.Accept("MOVIE.MP4", 11<<20))
	require.False(f.Accept("sample.mkv", 10<<20))
	require.True(f.Accept("movie.en.srt", 40<<10))
	require.False(f.Accept("movie.nfo", 2<<30))
	require.False(f.Accept("noext", 2<<30))
}
