package store

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	dlog "github.com/jkaberg/linkarr/log"
)

const eventRootKey = "/event/"

type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// History is an append-only journal of received webhook payloads.
type History struct {
	db       *badger.DB
	inMemory bool
}

// OpenHistory opens the journal at path. An empty path keeps it in memory.
func OpenHistory(p string) (*History, error) {
	l := log.Logger.With().Str("component", "webhook-history").Logger()

	opts := badger.DefaultOptions(p).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)
	if p == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	if p != "" {
		err = db.RunValueLogGC(0.5)
		if err != nil && err != badger.ErrNoRewrite {
			return nil, err
		}
	}

	return &History{
		db:       db,
		inMemory: p == "",
	}, nil
}

func (h *History) Append(source string, payload []byte) (*Entry, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("webhook payload is not valid json")
	}

	now := time.Now()
	e := &Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Source:    source,
		Data:      json.RawMessage(payload),
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	// zero padded so keys sort by time
	k := path.Join(eventRootKey, fmt.Sprintf("%020d-%s", now.UnixNano(), e.ID))
	err = h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), b)
	})
	if err != nil {
		return nil, err
	}

	if h.inMemory {
		return e, nil
	}

	return e, h.db.Sync()
}

// Latest returns up to limit entries, newest first.
func (h *History) Latest(limit int) ([]*Entry, error) {
	tx := h.db.NewTransaction(false)
	defer tx.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := tx.NewIterator(opts)
	defer it.Close()

	prefix := []byte(eventRootKey)
	seek := append([]byte(eventRootKey), 0xff)

	var out []*Entry
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}

		e := &Entry{}
		if err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, e)
		}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, nil
}

func (h *History) Close() error {
	return h.db.Close()
}
