package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSourceMissing = errors.New("source file not available yet")
	ErrUnsafePath    = errors.New("relative path escapes destination root")
)

type Method string

const (
	MethodExisting Method = "existing"
	MethodHardlink Method = "hardlink"
	MethodCommand  Method = "command"
	MethodCopy     Method = "copy"
)

const commandTimeout = 30 * time.Second

// Linker places files from a download into a library folder. It tries a
// hardlink first, then the external link command, then a plain copy.
type Linker struct {
	log zerolog.Logger

	command string
	link    func(oldname, newname string) error
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewLinker(command string) *Linker {
	if command == "" {
		command = "ln"
	}

	return &Linker{
		log:     log.Logger.With().Str("component", "linker").Logger(),
		command: command,
		link:    os.Link,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Materialize makes src available at root/rel and reports whether the file is
// present there afterwards. Calling it again for the same file is a no-op.
func (l *Linker) Materialize(src, root, rel string) bool {
	_, err := l.Link(src, root, rel)
	return err == nil
}

func (l *Linker) Link(src, root, rel string) (Method, error) {
	dst, err := Destination(root, rel)
	if err != nil {
		l.log.Error().Err(err).Str("source", src).Str("relative", rel).Msg("cannot resolve destination")
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		l.log.Error().Err(err).Str("destination", dst).Msg("error creating destination folder")
		return "", fmt.Errorf("error creating destination folder: %w", err)
	}

	if _, err := os.Lstat(dst); err == nil {
		l.log.Debug().Str("destination", dst).Msg("file already exists")
		return MethodExisting, nil
	}

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", ErrSourceMissing
		}
		return "", fmt.Errorf("error reading source: %w", err)
	}

	lerr := l.link(src, dst)
	if lerr == nil {
		l.log.Info().Str("relative", rel).Str("destination", dst).Msg("created hardlink")
		return MethodHardlink, nil
	}

	l.log.Warn().Err(lerr).Str("source", src).Msg("hardlink failed, trying link command")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	out, cerr := l.run(ctx, l.command, src, dst)
	cancel()
	if cerr == nil {
		l.log.Info().Str("relative", rel).Str("destination", dst).Msg("created hardlink with link command")
		return MethodCommand, nil
	}

	l.log.Warn().Err(cerr).
		Str("output", strings.TrimSpace(string(out))).
		Str("source", src).
		Msg("link command failed, copying instead")

	if err := copyFile(src, dst); err != nil {
		l.log.Error().Err(err).Str("source", src).Str("destination", dst).Msg("error copying file")
		return "", fmt.Errorf("all link methods failed for %q: %w", src, err)
	}

	l.log.Info().Str("relative", rel).Str("destination", dst).Msg("copied file")
	return MethodCopy, nil
}

// Destination joins rel onto root, refusing paths that would leave root.
func Destination(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("empty destination root: %w", ErrUnsafePath)
	}

	rel = filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrUnsafePath)
	}

	return filepath.Join(root, rel), nil
}

// copyFile writes into a temporary sibling first so a partial copy never shows
// up under the final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmp.Name(), fi.Mode().Perm()); err != nil {
		return err
	}

	if err := os.Chtimes(tmp.Name(), fi.ModTime(), fi.ModTime()); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}
