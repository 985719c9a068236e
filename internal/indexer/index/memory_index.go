// Package index implements the in-memory inverted index from n-grams to
// record ids. A single RWMutex serializes mutation while letting lookups run
// concurrently; every lookup observes one consistent snapshot.
package index

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer/tokenizer"
)

type MemoryIndex struct {
	mu         sync.RWMutex
	postings   map[string]postingSet
	records    map[string]*record
	nextSeq    uint64
	generation atomic.Uint64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		postings: make(map[string]postingSet),
		records:  make(map[string]*record),
	}
}

// Put upserts the n-grams of id. Postings for n-grams the record no longer
// contains are dropped; an empty sequence removes the id entirely. It
// reports whether the index changed.
func (m *MemoryIndex) Put(id string, ngrams []string) bool {
	if len(ngrams) == 0 {
		return m.Remove(id)
	}
	stored := make([]string, len(ngrams))
	copy(stored, ngrams)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.records[id]
	if exists && tokenizer.Equal(prev.ngrams, stored) {
		return false
	}

	next := tokenizer.Distinct(stored)
	if exists {
		for gram := range tokenizer.Distinct(prev.ngrams) {
			if _, keep := next[gram]; !keep {
				m.unlink(gram, id)
			}
		}
		prev.ngrams = stored
	} else {
		m.nextSeq++
		m.records[id] = &record{seq: m.nextSeq, ngrams: stored}
	}
	for gram := range next {
		set, ok := m.postings[gram]
		if !ok {
			set = make(postingSet)
			m.postings[gram] = set
		}
		set[id] = struct{}{}
	}
	m.generation.Add(1)
	return true
}

// Remove drops every posting of id. Unknown ids are a no-op.
func (m *MemoryIndex) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, exists := m.records[id]
	if !exists {
		return false
	}
	for gram := range tokenizer.Distinct(prev.ngrams) {
		m.unlink(gram, id)
	}
	delete(m.records, id)
	m.generation.Add(1)
	return true
}

// unlink removes id from one posting set. Caller holds the write lock.
func (m *MemoryIndex) unlink(gram, id string) {
	set, ok := m.postings[gram]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.postings, gram)
	}
}

// Candidates returns the ids of all records sharing at least one n-gram with
// query, in insertion order.
func (m *MemoryIndex) Candidates(query []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.collect(query)
	ids := make([]string, len(recs))
	for i, c := range recs {
		ids[i] = c.ID
	}
	return ids
}

// Lookup returns the candidates for query with their n-gram sequences, taken
// from a single snapshot. The returned sequences must not be modified.
func (m *MemoryIndex) Lookup(_ context.Context, query []string) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(query), nil
}

// collect gathers the union of postings for query. Caller holds the read lock.
func (m *MemoryIndex) collect(query []string) []Candidate {
	if len(query) == 0 {
		return []Candidate{}
	}
	seen := make(map[string]struct{})
	type hit struct {
		seq uint64
		Candidate
	}
	hits := make([]hit, 0)
	for gram := range tokenizer.Distinct(query) {
		for id := range m.postings[gram] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			rec := m.records[id]
			hits = append(hits, hit{seq: rec.seq, Candidate: Candidate{ID: id, Ngrams: rec.ngrams}})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].seq < hits[j].seq
	})
	result := make([]Candidate, len(hits))
	for i, h := range hits {
		result[i] = h.Candidate
	}
	return result
}

// Ngrams returns a copy of the stored sequence for id.
func (m *MemoryIndex) Ngrams(id string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false
	}
	out := make([]string, len(rec.ngrams))
	copy(out, rec.ngrams)
	return out, true
}

// Postings returns the sorted ids posted under gram.
func (m *MemoryIndex) Postings(gram string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.postings[gram]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns every n-gram with its sorted posting list, ordered by
// n-gram.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.postings))
	for gram, set := range m.postings {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		entries = append(entries, TermEntry{Ngram: gram, IDs: ids})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Ngram < entries[j].Ngram
	})
	return entries
}

// Len returns the number of indexed records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Terms returns the number of distinct n-grams with at least one posting.
func (m *MemoryIndex) Terms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}

// Generation increases on every mutation that changes the index.
func (m *MemoryIndex) Generation() uint64 {
	return m.generation.Load()
}

// Touch advances the generation without changing any posting, for record
// changes that results depend on but the n-grams do not reflect.
func (m *MemoryIndex) Touch() {
	m.generation.Add(1)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = make(map[string]postingSet)
	m.records = make(map[string]*record)
	m.nextSeq = 0
	m.generation.Add(1)
}
