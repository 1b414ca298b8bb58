package store

import "sync"

// feed fans change events out to per-collection subscribers. Dispatch is
// synchronous on the writer's goroutine; subscribers that need isolation
// should hand off to their own workers.
type feed struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

func newFeed() *feed {
	return &feed{subs: make(map[string]map[int]Handler)}
}

func (f *feed) subscribe(collection string, fn Handler) UnsubscribeFunc {
	f.mu.Lock()
	id := f.next
	f.next++
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[int]Handler)
	}
	f.subs[collection][id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[collection], id)
			f.mu.Unlock()
		})
	}
}

func (f *feed) publish(evt ChangeEvent) {
	f.mu.RLock()
	handlers := make([]Handler, 0, len(f.subs[evt.Collection]))
	for _, fn := range f.subs[evt.Collection] {
		handlers = append(handlers, fn)
	}
	f.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
