package torrent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaberg/linkarr/media"
)

type State string

const (
	StateStarting         State = "starting"
	StatePolling          State = "polling"
	StateCompleted        State = "completed"
	StateMaxChecksReached State = "max_checks_reached"
	StateDeactivated      State = "deactivated"
	StateTerminated       State = "terminated"
)

// Session is one monitored download. Its mutable fields are written by the
// goroutine polling it, except the active flag which completion events clear.
type Session struct {
	DownloadID     string
	RunID          string
	Title          string
	Folder         string
	MediaType      media.Type
	MediaID        int
	DownloadClient string
	FirstSeen      time.Time

	mu          sync.RWMutex
	active      bool
	state       State
	checks      int
	lastCheck   time.Time
	contentPath string
	recorded    bool
	processed   map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

func NewSession(id string, ev *media.Event) *Session {
	now := time.Now()
	s := &Session{
		DownloadID:     id,
		RunID:          uuid.NewString(),
		Title:          ev.Title(),
		DownloadClient: ev.DownloadClient,
		FirstSeen:      now,
		active:         true,
		state:          StateStarting,
		lastCheck:      now,
		processed:      make(map[string]struct{}),
		stop:           make(chan struct{}),
	}

	if ev.Media != nil {
		s.Folder = ev.Media.Folder()
		s.MediaType = ev.Media.Type()
		s.MediaID = ev.Media.ID()
	}

	return s
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Deactivate stops polling at the next check and wakes a sleeping poller.
func (s *Session) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once the session is deactivated.
func (s *Session) Done() <-chan struct{} {
	return s.stop
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Checks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checks
}

func (s *Session) nextCheck() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	return s.checks
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

func (s *Session) setContentPath(p string) {
	s.mu.Lock()
	s.contentPath = p
	s.mu.Unlock()
}

func (s *Session) ContentPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentPath
}

// markRecorded reports true only the first time it is called.
func (s *Session) markRecorded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorded {
		return false
	}
	s.recorded = true
	return true
}

func (s *Session) IsProcessed(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[path]
	return ok
}

func (s *Session) markProcessed(path string) {
	s.mu.Lock()
	s.processed[path] = struct{}{}
	s.mu.Unlock()
}

// ProcessedFiles returns the linked source paths, sorted.
func (s *Session) ProcessedFiles() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.processed))
	for p := range s.processed {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

type SessionSummary struct {
	DownloadID          string       `json:"download_id"`
	RunID               string       `json:"run_id"`
	MediaTitle          string       `json:"media_title"`
	MediaFolder         string       `json:"media_folder"`
	MediaType           media.Type   `json:"media_type"`
	MediaID             int          `json:"media_id,omitempty"`
	DownloadClient      string       `json:"download_client"`
	Active              bool         `json:"active"`
	State               State        `json:"state"`
	Checks              int          `json:"checks"`
	FirstSeen           time.Time    `json:"first_seen"`
	LastCheck           time.Time    `json:"last_check"`
	ContentPath         string       `json:"content_path,omitempty"`
	ProcessedFilesCount int          `json:"processed_files_count"`
	Torrent             *TorrentInfo `json:"qbittorrent,omitempty"`
}

func (s *Session) Summary() *SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &SessionSummary{
		DownloadID:          s.DownloadID,
		RunID:               s.RunID,
		MediaTitle:          s.Title,
		MediaFolder:         s.Folder,
		MediaType:           s.MediaType,
		MediaID:             s.MediaID,
		DownloadClient:      s.DownloadClient,
		Active:              s.active,
		State:               s.state,
		Checks:              s.checks,
		FirstSeen:           s.FirstSeen,
		LastCheck:           s.lastCheck,
		ContentPath:         s.contentPath,
		ProcessedFilesCount: len(s.processed),
	}
}
