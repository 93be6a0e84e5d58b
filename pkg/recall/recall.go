// Package recall implements the Hybrid Recall Engine (spec §4.2): BM25-style
// lexical scoring fused with cosine-similarity vector scoring, recency/
// importance/length-normalization boosts, a bounded min-heap candidate
// pool, and content-signature deduplication. The scoring pipeline mirrors
// recall_entries() and its helpers in prx-memory-storage/src/lib.rs.
package recall

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
	avgLen = 32.0

	scoreFloor   = 0.12
	heapCapMin   = 16
	heapCapMax   = 96
	sigTextChars = 120
)

// Query describes a recall request (spec §4.2 contract).
type Query struct {
	Text            string
	Embedding       []float32
	Scope           string
	Category        memtypes.Category
	Limit           int
	VectorWeight    *float64
	LexicalWeight   *float64
}

// Result pairs a MemoryEntry with its fused score.
type Result struct {
	Entry memtypes.MemoryEntry
	Score float64
}

var tokenPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases s and splits on non-alphanumeric runs, dropping
// empty tokens.
func Tokenize(s string) []string {
	lower := strings.ToLower(s)
	raw := tokenPattern.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func resolveWeights(q Query) (vw, lw float64) {
	vw = 0.6
	if q.VectorWeight != nil {
		vw = *q.VectorWeight
	}
	vw = clamp(vw, 0, 1)
	lw = 1 - vw
	if q.LexicalWeight != nil {
		lw = *q.LexicalWeight
	}
	lw = clamp(lw, 0, 1)
	return vw, lw
}

func approxDocLen(text string, tagCount int) float64 {
	n := tagCount
	if n < 1 {
		n = 1
	}
	return float64(len(text))/5.0 + float64(n)
}

// bm25Local computes the unnormalized BM25 contribution across terms using
// binary term presence — deliberate for short entries (spec §4.2 step 4).
func bm25Local(text string, terms []string, docLen float64) (score float64, hits int) {
	for _, term := range terms {
		tf := 0.0
		if strings.Contains(text, term) {
			tf = 1.0
			hits++
		}
		denom := tf + bm25K1*(1-bm25B+bm25B*docLen/avgLen)
		if denom == 0 {
			continue
		}
		score += (tf * (bm25K1 + 1)) / denom
	}
	return score, hits
}

// CosineSimilarity is exported for reuse by the embedding front-end's
// cosine-fallback rerank (spec §4.3).
func CosineSimilarity(a, b []float32) float64 { return cosineSimilarity(a, b) }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func applyRecencyBoost(score float64, timestampMs int64, now time.Time) float64 {
	ageDays := now.Sub(time.UnixMilli(timestampMs)).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return score + 0.10/(1+ageDays/14)
}

func applyImportanceWeight(score, importance float64) float64 {
	return score * (0.7 + 0.3*importance)
}

func applyLengthNorm(score float64, textLen int) float64 {
	if textLen <= 500 {
		return score
	}
	factor := 1 / (1 + 0.5*math.Log2(float64(textLen)/500))
	return score * clamp(factor, 0.4, 1.0)
}

// Signature returns the content-deduplication key for an entry: a hash of
// (category, scope, first 120 chars of text).
func Signature(e memtypes.MemoryEntry) string {
	text := e.Text
	if len(text) > sigTextChars {
		text = text[:sigTextChars]
	}
	h := sha256.Sum256([]byte(string(e.Category) + "|" + e.Scope + "|" + text))
	return hex.EncodeToString(h[:])
}

// rankedItem is the bounded min-heap element; Less orders by ascending
// score so the heap root is always the current worst survivor, cheaply
// evicted when a better candidate arrives (mirrors the Rust
// BinaryHeap<Reverse<RankedItem>>).
type rankedItem struct {
	score float64
	entry memtypes.MemoryEntry
}

type minHeap []rankedItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(rankedItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Recall runs the full hybrid algorithm over candidates, per spec §4.2.
// candidates is assumed already filtered by the caller's storage-level
// scope/category predicate where convenient; Recall re-applies scope and
// category filters defensively.
func Recall(q Query, candidates []memtypes.MemoryEntry, now time.Time) []Result {
	terms := Tokenize(q.Text)
	hasVector := len(q.Embedding) > 0
	if len(terms) == 0 && !hasVector {
		return nil
	}
	vw, lw := resolveWeights(q)

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	heapCap := int(clamp(float64(limit*4), heapCapMin, heapCapMax))

	h := &minHeap{}
	heap.Init(h)

	var anchor string
	if len(terms) > 0 {
		anchor = terms[0]
	}

	for _, e := range candidates {
		if q.Scope != "" && e.Scope != q.Scope {
			continue
		}
		if q.Category != "" && e.Category != q.Category {
			continue
		}
		if !hasVector && anchor != "" && !strings.Contains(e.Text, anchor) {
			// Anchor pruning (spec §4.2 step 5): performance heuristic
			// only, not a correctness contract.
			continue
		}

		docLen := approxDocLen(e.Text, len(e.Tags))
		var lexicalBase float64
		if len(terms) > 0 {
			bm25, hits := bm25Local(e.Text, terms, docLen)
			bm25Norm := bm25 / float64(len(terms))
			coverage := float64(hits) / float64(len(terms))
			lexicalBase = 0.65*bm25Norm + 0.35*coverage
		}

		var score float64
		if hasVector {
			cos := cosineSimilarity(q.Embedding, e.Embedding)
			score = lw*lexicalBase + vw*(cos+1)/2
		} else {
			score = lexicalBase
		}

		score = applyRecencyBoost(score, e.TimestampMs, now)
		score = applyImportanceWeight(score, e.Importance)
		score = applyLengthNorm(score, len(e.Text))

		if score < scoreFloor {
			continue
		}

		if h.Len() < heapCap {
			heap.Push(h, rankedItem{score: score, entry: e})
		} else if h.Len() > 0 && score > (*h)[0].score {
			heap.Pop(h)
			heap.Push(h, rankedItem{score: score, entry: e})
		}
	}

	// heap.Pop off a min-heap yields ascending score order; filling the
	// slice back-to-front turns that into descending order directly.
	items := make([]rankedItem, h.Len())
	for i := len(items) - 1; i >= 0; i-- {
		items[i] = heap.Pop(h).(rankedItem)
	}

	seen := make(map[string]bool, len(items))
	out := make([]Result, 0, limit)
	for _, it := range items {
		sig := Signature(it.entry)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, Result{Entry: it.entry, Score: it.score})
		if len(out) >= limit {
			break
		}
	}
	return out
}
