package docstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in-process. It implements Store, Feed
// and LiveQuerier and fans change batches out to its subscribers
// directly, which makes it the default for tests and single-process
// use.
type MemoryStore struct {
	mu   sync.RWMutex
	cols map[string]map[string]Document
	subs map[string][]*memorySub
}

type memorySub struct {
	col  string
	ch   chan Batch
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// send delivers a batch unless the subscriber is gone. A subscriber
// that stopped draining loses batches once its buffer fills.
func (s *memorySub) send(batch Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- batch:
	default:
		slog.Debug("dropping change batch for slow subscriber", "collection", s.col)
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cols: make(map[string]map[string]Document),
		subs: make(map[string][]*memorySub),
	}
}

// Put stores or replaces a document, assigning CreatedAt when unset.
func (m *MemoryStore) Put(ctx context.Context, col string, doc Document) (Document, error) {
	m.mu.Lock()
	docs, ok := m.cols[col]
	if !ok {
		docs = make(map[string]Document)
		m.cols[col] = docs
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	kind := Added
	if _, exists := docs[doc.ID]; exists {
		kind = Modified
		now := time.Now().UTC()
		doc.UpdatedAt = &now
	}
	docs[doc.ID] = doc
	m.mu.Unlock()

	m.fanout(col, Batch{{Kind: kind, Doc: doc}})
	return doc, nil
}

// Patch applies mutate to the stored document under the store lock.
func (m *MemoryStore) Patch(ctx context.Context, col, id string, mutate Mutate) (Document, error) {
	m.mu.Lock()
	docs := m.cols[col]
	doc, ok := docs[id]
	if !ok {
		m.mu.Unlock()
		return Document{}, ErrNotFound
	}
	next, err := mutate(doc)
	if err != nil {
		m.mu.Unlock()
		return Document{}, err
	}
	next.ID = doc.ID
	next.CreatedAt = doc.CreatedAt
	now := time.Now().UTC()
	next.UpdatedAt = &now
	docs[id] = next
	m.mu.Unlock()

	m.fanout(col, Batch{{Kind: Modified, Doc: next}})
	return next, nil
}

// Get returns the stored document or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, col, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.cols[col][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Delete removes the document and notifies subscribers. Absent
// documents are ignored.
func (m *MemoryStore) Delete(ctx context.Context, col, id string) error {
	m.mu.Lock()
	docs := m.cols[col]
	doc, ok := docs[id]
	if ok {
		delete(docs, id)
	}
	m.mu.Unlock()
	if ok {
		m.fanout(col, Batch{{Kind: Removed, Doc: doc}})
	}
	return nil
}

// Page returns documents ordered by (CreatedAt, ID), strictly beyond
// startAfter when set.
func (m *MemoryStore) Page(ctx context.Context, col string, order Order, startAfter *Document, limit int) ([]Document, error) {
	m.mu.RLock()
	all := make([]Document, 0, len(m.cols[col]))
	for _, doc := range m.cols[col] {
		all = append(all, doc)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if order == Desc {
			i, j = j, i
		}
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	res := make([]Document, 0, limit)
	for _, doc := range all {
		if startAfter != nil && !beyond(doc, *startAfter, order) {
			continue
		}
		res = append(res, doc)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

// beyond reports whether doc sorts strictly after cursor in the given
// traversal order.
func beyond(doc, cursor Document, order Order) bool {
	if !doc.CreatedAt.Equal(cursor.CreatedAt) {
		if order == Desc {
			return doc.CreatedAt.Before(cursor.CreatedAt)
		}
		return doc.CreatedAt.After(cursor.CreatedAt)
	}
	if order == Desc {
		return doc.ID < cursor.ID
	}
	return doc.ID > cursor.ID
}

// Subscribe registers a change listener for col.
func (m *MemoryStore) Subscribe(ctx context.Context, col string) (<-chan Batch, func(), error) {
	sub := &memorySub{col: col, ch: make(chan Batch, 64), done: make(chan struct{})}
	m.mu.Lock()
	m.subs[col] = append(m.subs[col], sub)
	m.mu.Unlock()

	stop := func() { m.unsubscribe(sub) }
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.unsubscribe(sub)
			case <-sub.done:
			}
		}()
	}
	return sub.ch, stop, nil
}

// LiveQuery emits the limit most-recent documents as an initial Added
// batch (newest first) and then forwards incremental changes.
func (m *MemoryStore) LiveQuery(ctx context.Context, col string, limit int) (<-chan Batch, func(), error) {
	ch, stop, err := m.Subscribe(ctx, col)
	if err != nil {
		return nil, nil, err
	}
	initial, err := m.Page(ctx, col, Desc, nil, limit)
	if err != nil {
		stop()
		return nil, nil, err
	}

	out := make(chan Batch, 64)
	go func() {
		defer close(out)
		// The initial batch goes out even when empty so consumers can
		// tell "loaded, nothing there" from "still loading".
		batch := make(Batch, 0, len(initial))
		for _, doc := range initial {
			batch = append(batch, Change{Kind: Added, Doc: doc})
		}
		out <- batch
		for batch := range ch {
			out <- batch
		}
	}()
	return out, stop, nil
}

// Publish satisfies Publisher so the memory store can stand in for an
// external feed transport.
func (m *MemoryStore) Publish(ctx context.Context, col string, batch Batch) error {
	m.fanout(col, batch)
	return nil
}

func (m *MemoryStore) fanout(col string, batch Batch) {
	m.mu.RLock()
	subs := make([]*memorySub, len(m.subs[col]))
	copy(subs, m.subs[col])
	m.mu.RUnlock()
	for _, sub := range subs {
		sub.send(batch)
	}
}

func (m *MemoryStore) unsubscribe(sub *memorySub) {
	m.mu.Lock()
	subs := m.subs[sub.col]
	for i, s := range subs {
		if s == sub {
			m.subs[sub.col] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	sub.close()
}
