// Package store implements the Storage Backend capability (spec §4.1): an
// append-only durable set of MemoryEntries with filtered fetch, delete by
// id, and summary stats. The Hybrid Recall Engine in pkg/recall performs
// its own ranking over whatever List returns; Backend does not rank.
package store

import (
	"context"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

// Stats summarizes the contents of a Backend.
type Stats struct {
	Total      int            `json:"total"`
	ByScope    map[string]int `json:"by_scope"`
	ByCategory map[string]int `json:"by_category"`
}

// Filter narrows List/Stats to a scope and/or category; empty fields mean
// "don't filter on this dimension".
type Filter struct {
	Scope    string
	Category memtypes.Category
}

// Backend is the durable storage capability the rest of the core depends
// on. Implementations must preserve insertion order and never reuse an id.
// Callers serialize access through a single lock held by the write
// pipeline (spec §5); Backend implementations need not be internally
// thread-safe beyond that guarantee, but the implementations here are
// safe for concurrent use regardless: never leave a shared map
// unguarded.
type Backend interface {
	// Store appends entry, assigning it a fresh id, and returns the
	// stored copy (with id and timestamp populated).
	Store(ctx context.Context, entry memtypes.MemoryEntry) (memtypes.MemoryEntry, error)

	// Replace overwrites an existing entry in place, keeping its id. Used
	// only by memory_reembed (spec_full supplement), which updates an
	// embedding without changing identity.
	Replace(ctx context.Context, entry memtypes.MemoryEntry) error

	// ForgetByID deletes the entry with the given id. Returns false if no
	// such entry existed.
	ForgetByID(ctx context.Context, id string) (bool, error)

	// List returns entries matching filter, in insertion order, up to
	// limit (0 means unlimited).
	List(ctx context.Context, filter Filter, limit int) ([]memtypes.MemoryEntry, error)

	// Get fetches a single entry by id.
	Get(ctx context.Context, id string) (memtypes.MemoryEntry, error)

	// Stats summarizes the backend's current contents.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources (file handles, connection pools).
	Close() error
}

func computeStats(entries []memtypes.MemoryEntry) Stats {
	s := Stats{ByScope: map[string]int{}, ByCategory: map[string]int{}}
	for _, e := range entries {
		s.Total++
		s.ByScope[e.Scope]++
		s.ByCategory[string(e.Category)]++
	}
	return s
}

func matches(e memtypes.MemoryEntry, f Filter) bool {
	if f.Scope != "" && e.Scope != f.Scope {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	return true
}
