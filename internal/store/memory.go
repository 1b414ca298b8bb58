package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryDoc struct {
	data      Record
	createdAt time.Time
	updatedAt time.Time
}

// Memory is an in-process RecordStore used by tests and single-node dev
// deployments. Writes publish change events synchronously before returning.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryDoc
	feed        *feed
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*memoryDoc),
		feed:        newFeed(),
	}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(doc.data), nil
}

func (m *Memory) Create(_ context.Context, collection, id string, data Record) error {
	now := time.Now()
	m.mu.Lock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]*memoryDoc)
	}
	m.collections[collection][id] = &memoryDoc{data: cloneRecord(data), createdAt: now, updatedAt: now}
	m.mu.Unlock()

	m.feed.publish(ChangeEvent{Collection: collection, Type: ChangeCreate, ID: id, Data: cloneRecord(data)})
	return nil
}

func (m *Memory) Update(_ context.Context, collection, id string, data Record) error {
	m.mu.Lock()
	doc, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	for k, v := range data {
		doc.data[k] = v
	}
	doc.updatedAt = time.Now()
	merged := cloneRecord(doc.data)
	m.mu.Unlock()

	m.feed.publish(ChangeEvent{Collection: collection, Type: ChangeUpdate, ID: id, Data: merged})
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	doc, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	last := cloneRecord(doc.data)
	delete(m.collections[collection], id)
	m.mu.Unlock()

	m.feed.publish(ChangeEvent{Collection: collection, Type: ChangeDelete, ID: id, Data: last})
	return nil
}

func (m *Memory) List(_ context.Context, collection string, opts ListOptions) ([]Document, error) {
	m.mu.RLock()
	docs := make([]Document, 0, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		if opts.CreatedBefore != nil && !doc.createdAt.Before(*opts.CreatedBefore) {
			continue
		}
		docs = append(docs, Document{
			Collection: collection,
			ID:         id,
			Data:       cloneRecord(doc.data),
			CreatedAt:  doc.createdAt,
			UpdatedAt:  doc.updatedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func (m *Memory) Subscribe(collection string, fn Handler) UnsubscribeFunc {
	return m.feed.subscribe(collection, fn)
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
