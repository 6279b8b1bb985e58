// Package store persists the torrent to media correlation needed to handle
// delete events after the monitoring session is gone.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jkaberg/linkarr/media"
)

type Record struct {
	MediaID     int        `json:"media_id,omitempty"`
	MediaTitle  string     `json:"media_title"`
	MediaPath   string     `json:"media_path"`
	TorrentPath string     `json:"torrent_path"`
	MediaType   media.Type `json:"media_type"`
	AddedDate   time.Time  `json:"added_date"`
}

// Store keeps every record in memory and rewrites the whole snapshot file on
// each mutation through a temporary file and a rename.
type Store struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	records map[string]*Record

	log zerolog.Logger
}

// Open loads the snapshot at path. A missing or undecodable file gives an
// empty store.
func Open(fs afero.Fs, path string) (*Store, error) {
	s := &Store{
		fs:      fs,
		path:    path,
		records: make(map[string]*Record),
		log:     log.Logger.With().Str("component", "torrent-store").Logger(),
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0744); err != nil {
		return nil, fmt.Errorf("error creating store folder: %w", err)
	}

	b, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		s.log.Warn().Err(err).Str("file", path).Msg("error reading torrent store, starting empty")
		return s, nil
	case len(b) == 0:
		return s, nil
	}

	records := make(map[string]*Record)
	if err := json.Unmarshal(b, &records); err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("torrent store is corrupted, starting empty")
		return s, nil
	}

	for id, r := range records {
		if r != nil {
			s.records[id] = r
		}
	}

	s.log.Info().Int("records", len(s.records)).Str("file", path).Msg("torrent store loaded")
	return s, nil
}

// Put stores r under id. On a write error the record stays in memory and the
// next successful mutation persists it.
func (s *Store) Put(id string, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	if cp.AddedDate.IsZero() {
		cp.AddedDate = time.Now()
	}
	s.records[id] = &cp

	return s.persist()
}

func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, false
	}

	cp := *r
	return &cp, true
}

// Delete reports whether a record existed for id.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)

	return true, s.persist()
}

func (s *Store) All() map[string]*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Record, len(s.records))
	for id, r := range s.records {
		cp := *r
		out[id] = &cp
	}
	return out
}

// ByMedia returns the sorted download ids recorded for a media item. An empty
// mediaType matches any type.
func (s *Store) ByMedia(mediaType media.Type, mediaID int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, r := range s.records {
		if r.MediaID != mediaID {
			continue
		}
		if mediaType != "" && r.MediaType != "" && r.MediaType != mediaType {
			continue
		}
		out = append(out, id)
	}

	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// persist must be called with mu held for writing.
func (s *Store) persist() error {
	b, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding torrent store: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary store file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		s.fs.Remove(name)
		return fmt.Errorf("error writing temporary store file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(name)
		return fmt.Errorf("error syncing temporary store file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		s.fs.Remove(name)
		return fmt.Errorf("error closing temporary store file: %w", err)
	}

	if err := s.fs.Rename(name, s.path); err != nil {
		s.fs.Remove(name)
		return fmt.Errorf("error replacing torrent store: %w", err)
	}

	return nil
}
