package store

import (
	"context"
	"sort"
	"sync"
)

type memRecord struct {
	seq    uint64
	text   string
	ngrams []string
}

// MemoryStore keeps records in process. Scan visits them in first-insert
// order.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	nextSeq uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memRecord)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	ngrams := make([]string, len(rec.Ngrams))
	copy(ngrams, rec.Ngrams)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok {
		existing.text = rec.Text
		existing.ngrams = ngrams
		return nil
	}
	s.nextSeq++
	s.records[rec.ID] = &memRecord{seq: s.nextSeq, text: rec.Text, ngrams: ngrams}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Names(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			names[id] = rec.text
		}
	}
	return names, nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	type entry struct {
		id string
		memRecord
	}
	entries := make([]entry, 0, len(s.records))
	for id, rec := range s.records {
		entries = append(entries, entry{id: id, memRecord: *rec})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(Record{ID: e.id, Text: e.text, Ngrams: e.ngrams}); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
