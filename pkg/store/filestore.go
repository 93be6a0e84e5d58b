package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

// FileStore is the default Backend: a single JSON file holding every
// entry, rewritten atomically on every mutation. Grounded on
// PersistentMemoryStore in the prx-memory-storage crate: ids
// follow the "mem-<n>" form and next_id is recovered from the file's
// existing ids on open, so a restarted process never reissues an id.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries []memtypes.MemoryEntry
	nextID  int64
}

// OpenFileStore opens (creating if absent) the JSON file at path.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, nextID: 1}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, IOErr(mkErr)
			}
		}
		if writeErr := fs.persistLocked(); writeErr != nil {
			return nil, writeErr
		}
		return fs, nil
	}
	if err != nil {
		return nil, IOErr(err)
	}
	if len(data) == 0 {
		return fs, nil
	}
	var entries []memtypes.MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, SerializationErr(err)
	}
	fs.entries = entries
	fs.nextID = recoverNextID(entries)
	return fs, nil
}

// recoverNextID scans existing "mem-<n>" ids and returns one past the
// highest seen, so a restarted process never reissues an id.
func recoverNextID(entries []memtypes.MemoryEntry) int64 {
	var max int64
	for _, e := range entries {
		n, ok := parseMemID(e.ID)
		if ok && n > max {
			max = n
		}
	}
	return max + 1
}

func parseMemID(id string) (int64, bool) {
	const prefix = "mem-"
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (fs *FileStore) Store(_ context.Context, entry memtypes.MemoryEntry) (memtypes.MemoryEntry, error) {
	if strings.TrimSpace(entry.Text) == "" {
		return memtypes.MemoryEntry{}, InvalidInputErr(fmt.Errorf("text must not be empty"))
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry.ID = fmt.Sprintf("mem-%d", fs.nextID)
	fs.nextID++
	entry.Text = strings.ToLower(strings.TrimSpace(entry.Text))
	entry.Tags = lowerAll(entry.Tags)
	entry.Importance = memtypes.Clamp01(entry.Importance)
	if entry.TimestampMs == 0 {
		entry.TimestampMs = time.Now().UnixMilli()
	}
	fs.entries = append(fs.entries, entry)
	if err := fs.persistLocked(); err != nil {
		// Roll back the in-memory append so the failed write isn't
		// visible to subsequent reads.
		fs.entries = fs.entries[:len(fs.entries)-1]
		return memtypes.MemoryEntry{}, err
	}
	return entry, nil
}

func (fs *FileStore) Replace(_ context.Context, entry memtypes.MemoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.entries {
		if fs.entries[i].ID == entry.ID {
			fs.entries[i] = entry
			return fs.persistLocked()
		}
	}
	return ErrNotFound
}

func (fs *FileStore) ForgetByID(_ context.Context, id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.entries {
		if fs.entries[i].ID == id {
			fs.entries = append(fs.entries[:i], fs.entries[i+1:]...)
			if err := fs.persistLocked(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (fs *FileStore) List(_ context.Context, filter Filter, limit int) ([]memtypes.MemoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]memtypes.MemoryEntry, 0, len(fs.entries))
	for _, e := range fs.entries {
		if matches(e, filter) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (fs *FileStore) Get(_ context.Context, id string) (memtypes.MemoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, e := range fs.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return memtypes.MemoryEntry{}, ErrNotFound
}

func (fs *FileStore) Stats(_ context.Context) (Stats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return computeStats(fs.entries), nil
}

func (fs *FileStore) Close() error { return nil }

// persistLocked writes the current entry set to a temp file and renames
// it over the target path, so a crash mid-write never corrupts the
// durable copy. Caller must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return SerializationErr(err)
	}
	tmp := fs.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return IOErr(err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		os.Remove(tmp)
		return IOErr(err)
	}
	return nil
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
