package torrent

import (
	"context"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// TorrentService is the torrent client the monitor asks about downloads.
// Implementations log their own failures and answer with zero values instead
// of errors, so a broken client never interrupts monitoring.
type TorrentService interface {
	// Status reports whether the download finished and what the client knows
	// about it. info is nil when the client does not know the id.
	Status(ctx context.Context, id string) (completed bool, info *TorrentInfo)
	Files(ctx context.Context, id string) []TorrentFile
	// ContentPath returns "" when the client has no path for id.
	ContentPath(ctx context.Context, id string) string
	Delete(ctx context.Context, id string, withFiles bool) bool
}

type TorrentInfo struct {
	Name         string  `json:"name"`
	Progress     float64 `json:"progress"`
	State        string  `json:"state"`
	Size         int64   `json:"size"`
	SavePath     string  `json:"save_path,omitempty"`
	ContentPath  string  `json:"content_path,omitempty"`
	DownloadPath string  `json:"download_path,omitempty"`
}

// TorrentFile is one entry of a torrent's file list. Name is relative to the
// torrent save path. Progress is nil when the client did not report it.
type TorrentFile struct {
	Name     string   `json:"name"`
	Size     int64    `json:"size"`
	Progress *float64 `json:"progress,omitempty"`
}

// NormalizeID lower-cases ids that are valid hex info-hashes, the form
// torrent clients use as keys. Other ids are returned trimmed but untouched.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)

	var h metainfo.Hash
	if err := h.FromHexString(id); err != nil {
		return id
	}

	return h.HexString()
}
