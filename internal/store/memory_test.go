package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_CRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "leads", "l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}

	if err := m.Create(ctx, "leads", "l1", Record{"name": "Ana", "score": 10}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := m.Get(ctx, "leads", "l1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["name"] != "Ana" {
		t.Errorf("got %v", got)
	}

	// Update merges the patch; untouched fields survive.
	if err := m.Update(ctx, "leads", "l1", Record{"score": 20}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = m.Get(ctx, "leads", "l1")
	if got["name"] != "Ana" || got["score"] != 20 {
		t.Errorf("merge lost fields: %v", got)
	}

	if err := m.Update(ctx, "leads", "missing", Record{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing: got %v", err)
	}

	if err := m.Delete(ctx, "leads", "l1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "leads", "l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
	if err := m.Delete(ctx, "leads", "l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v", err)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Create(ctx, "leads", "l1", Record{"name": "Ana"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _ := m.Get(ctx, "leads", "l1")
	got["name"] = "mutated"
	again, _ := m.Get(ctx, "leads", "l1")
	if again["name"] != "Ana" {
		t.Errorf("caller mutation leaked into the store: %v", again)
	}
}

func TestMemory_SubscribeDeliversChangeEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var events []ChangeEvent
	unsub := m.Subscribe("leads", func(evt ChangeEvent) {
		events = append(events, evt)
	})
	defer unsub()

	// Events from other collections never reach this subscriber.
	if err := m.Create(ctx, "tasks", "t1", Record{"title": "x"}); err != nil {
		t.Fatalf("Create tasks: %v", err)
	}

	if err := m.Create(ctx, "leads", "l1", Record{"status": "new"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Update(ctx, "leads", "l1", Record{"status": "qualified"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Delete(ctx, "leads", "l1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != ChangeCreate || events[1].Type != ChangeUpdate || events[2].Type != ChangeDelete {
		t.Errorf("event types: %s %s %s", events[0].Type, events[1].Type, events[2].Type)
	}
	// The update event carries the merged document.
	if events[1].Data["status"] != "qualified" {
		t.Errorf("update event data = %v", events[1].Data)
	}
	// The delete event carries the last known state.
	if events[2].Data["status"] != "qualified" {
		t.Errorf("delete event data = %v", events[2].Data)
	}

	unsub()
	unsub() // safe to call twice
	if err := m.Create(ctx, "leads", "l2", Record{}); err != nil {
		t.Fatalf("Create after unsubscribe: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("unsubscribed handler still invoked: %d events", len(events))
	}
}

func TestMemory_EventsWithoutSubscribersAreDropped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Create(ctx, "leads", "l1", Record{"status": "new"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A late subscriber sees nothing from before; there is no replay.
	var events []ChangeEvent
	defer m.Subscribe("leads", func(evt ChangeEvent) { events = append(events, evt) })()
	if len(events) != 0 {
		t.Errorf("late subscriber received %d replayed events", len(events))
	}
}

func TestMemory_ListNewestFirstWithCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := m.Create(ctx, "leads", id, Record{"id": id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	docs, err := m.List(ctx, "leads", ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if docs[0].ID != "c" || docs[2].ID != "a" {
		t.Errorf("not newest-first: %s %s %s", docs[0].ID, docs[1].ID, docs[2].ID)
	}

	limited, _ := m.List(ctx, "leads", ListOptions{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit: got %d", len(limited))
	}

	cursor := docs[0].CreatedAt
	older, _ := m.List(ctx, "leads", ListOptions{CreatedBefore: &cursor})
	if len(older) != 2 {
		t.Errorf("cursor: got %d, want 2", len(older))
	}

	empty, _ := m.List(ctx, "nothing", ListOptions{})
	if len(empty) != 0 {
		t.Errorf("unknown collection: got %d docs", len(empty))
	}
}
