package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type docID struct {
	c      Collection
	family string
	key    string
}

// MemoryStore keeps documents in process. A unit of work stages its changes
// and applies them under the store lock only when the function succeeds.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[docID]Document
	outbox []OutboxEvent
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[docID]Document)}
}

func (s *MemoryStore) Get(ctx context.Context, c Collection, family, key string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Get(ctx, c, family, key)
}

func (s *MemoryStore) Query(ctx context.Context, c Collection, family string, f Filter) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Query(ctx, c, family, f)
}

func (s *MemoryStore) Upsert(ctx context.Context, doc Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.view()
	v, err := tx.Upsert(ctx, doc)
	if err != nil {
		return 0, err
	}
	s.apply(tx)
	return v, nil
}

func (s *MemoryStore) Delete(ctx context.Context, c Collection, family, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.view()
	if err := tx.Delete(ctx, c, family, key); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

func (s *MemoryStore) AppendOutbox(ctx context.Context, ev OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.view()
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

// Atomically holds the store lock for the whole function, so units of work
// are serialized.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.view()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

func (s *MemoryStore) PendingOutbox(_ context.Context, limit int) ([]OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxEvent
	for _, ev := range s.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id int64) error {
	return s.updateOutbox(id, func(ev *OutboxEvent) {
		now := time.Now().UTC()
		ev.PublishedAt = &now
		ev.Attempts++
		ev.LastError = ""
	})
}

func (s *MemoryStore) MarkPublishError(_ context.Context, id int64, cause string) error {
	return s.updateOutbox(id, func(ev *OutboxEvent) {
		ev.Attempts++
		ev.LastError = cause
	})
}

func (s *MemoryStore) updateOutbox(id int64, fn func(*OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox event %d: %w", id, ErrNotFound)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

// view starts a staged change set over the current state. Caller holds s.mu.
func (s *MemoryStore) view() *memTx {
	return &memTx{base: s, writes: make(map[docID]*Document), nextID: s.nextID}
}

// apply commits a change set. Caller holds s.mu.
func (s *MemoryStore) apply(tx *memTx) {
	for id, doc := range tx.writes {
		if doc == nil {
			delete(s.docs, id)
			continue
		}
		s.docs[id] = *doc
	}
	s.outbox = append(s.outbox, tx.outbox...)
	s.nextID = tx.nextID
}

// memTx reads through its staged writes to the base documents. A nil entry
// in writes is a staged delete.
type memTx struct {
	base   *MemoryStore
	writes map[docID]*Document
	outbox []OutboxEvent
	nextID int64
}

func (t *memTx) lookup(id docID) (Document, bool) {
	if staged, ok := t.writes[id]; ok {
		if staged == nil {
			return Document{}, false
		}
		return *staged, true
	}
	doc, ok := t.base.docs[id]
	return doc, ok
}

func (t *memTx) Get(ctx context.Context, c Collection, family, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	doc, ok := t.lookup(docID{c, family, key})
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", c, key, ErrNotFound)
	}
	return cloneDoc(doc), nil
}

func (t *memTx) Query(ctx context.Context, c Collection, family string, f Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	seen := make(map[docID]bool)
	var out []Document
	consider := func(id docID) error {
		if seen[id] || id.c != c || id.family != family {
			return nil
		}
		seen[id] = true
		doc, ok := t.lookup(id)
		if !ok {
			return nil
		}
		match, err := matches(doc.Body, f)
		if err != nil {
			return fmt.Errorf("query %s: %w", c, err)
		}
		if match {
			out = append(out, cloneDoc(doc))
		}
		return nil
	}
	for id := range t.writes {
		if err := consider(id); err != nil {
			return nil, err
		}
	}
	for id := range t.base.docs {
		if err := consider(id); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memTx) Upsert(ctx context.Context, doc Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := docID{doc.Collection, doc.Family, doc.Key}
	var current int64
	if existing, ok := t.lookup(id); ok {
		current = existing.Version
	}
	if doc.Version != 0 && doc.Version != current {
		return 0, fmt.Errorf("%s/%s at version %d, expected %d: %w", doc.Collection, doc.Key, current, doc.Version, ErrVersionConflict)
	}
	stored := cloneDoc(doc)
	stored.Version = current + 1
	t.writes[id] = &stored
	return stored.Version, nil
}

func (t *memTx) Delete(ctx context.Context, c Collection, family, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := docID{c, family, key}
	if _, ok := t.lookup(id); !ok {
		return fmt.Errorf("%s/%s: %w", c, key, ErrNotFound)
	}
	t.writes[id] = nil
	return nil
}

func (t *memTx) AppendOutbox(ctx context.Context, ev OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.nextID++
	ev.ID = t.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	t.outbox = append(t.outbox, ev)
	return nil
}

func cloneDoc(d Document) Document {
	d.Body = append(json.RawMessage(nil), d.Body...)
	return d
}

// matches evaluates f against the top-level fields of body, comparing in
// the JSON domain so memory and SQLite agree.
func matches(body json.RawMessage, f Filter) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, err
	}
	for k, want := range f {
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false, err
		}
		got, ok := fields[k]
		if !ok {
			// an absent field matches the zero value, as omitempty drops it
			if string(wantJSON) == `""` || string(wantJSON) == "false" || string(wantJSON) == "0" {
				continue
			}
			return false, nil
		}
		if string(got) != string(wantJSON) {
			return false, nil
		}
	}
	return true, nil
}
