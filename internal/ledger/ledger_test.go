package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/towerd/internal/db"
	"github.com/dokzlo13/towerd/internal/eventbus"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l := openLedger(t)

	if err := l.Append("request", "req-1", map[string]any{"path": "/leds", "status": 204}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append("leds", "", map[string]any{"green": true}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append("request", "req-2", nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	requests, err := l.GetByType("request", 10)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("GetByType() returned %d entries, want 2", len(requests))
	}
	if requests[0].RequestID != "req-2" || requests[0].Payload != nil {
		t.Errorf("newest entry = %+v, want req-2 without payload", requests[0])
	}
	if requests[1].Payload["path"] != "/leds" || requests[1].Payload["status"] != float64(204) {
		t.Errorf("payload = %v", requests[1].Payload)
	}

	byID, err := l.GetByRequest("req-1")
	if err != nil {
		t.Fatalf("GetByRequest() error = %v", err)
	}
	if len(byID) != 1 || byID[0].EventType != "request" {
		t.Errorf("GetByRequest() = %+v", byID)
	}

	now := time.Now()
	ranged, err := l.GetByTimeRange(now.Add(-time.Minute), now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("GetByTimeRange() error = %v", err)
	}
	if len(ranged) != 3 {
		t.Errorf("GetByTimeRange() returned %d entries, want 3", len(ranged))
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	old := time.Now().Add(-48 * time.Hour)
	err := l.AppendBatch([]Record{
		{EventType: "mute", Timestamp: old},
		{EventType: "mute", Timestamp: old},
		{EventType: "mute", Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	left, _ := l.GetByType("mute", 10)
	if len(left) != 1 {
		t.Errorf("remaining = %d, want 1", len(left))
	}
}

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (f *flushRecorder) flush(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, records)
	return f.err
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(3, time.Hour, rec.flush)

	for i := 0; i < 7; i++ {
		b.Add(Record{EventType: "request"})
	}

	if rec.count() != 2 {
		t.Fatalf("batches = %d, want 2", rec.count())
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}

	b.Close()
	if rec.count() != 3 || len(rec.batches[2]) != 1 {
		t.Errorf("Close() did not flush the remainder: %d batches", rec.count())
	}

	b.Add(Record{EventType: "request"})
	if b.Pending() != 0 {
		t.Error("Add() after Close() buffered a record")
	}
}

func TestBatcher_FlushesAfterInterval(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(100, 10*time.Millisecond, rec.flush)
	defer b.Close()

	b.Add(Record{EventType: "mute"})
	b.Add(Record{EventType: "mute"})

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(rec.batches[0]))
	}
}

func TestBatcher_FlushErrorDoesNotPanic(t *testing.T) {
	rec := &flushRecorder{err: errors.New("disk full")}
	b := NewBatcher(1, time.Hour, rec.flush)
	b.Add(Record{EventType: "reset"})
	if rec.count() != 1 {
		t.Errorf("batches = %d, want 1", rec.count())
	}
}

func TestSubscribe_RecordsBusEvents(t *testing.T) {
	l := openLedger(t)
	bus := eventbus.NewWithConfig(1, 16)
	batcher := NewBatcher(100, time.Hour, l.AppendBatch)
	Subscribe(bus, batcher)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeRequest, Data: map[string]any{"request_id": "abc", "status": 200}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeMute, Data: map[string]any{"muted": true}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeAmbient, Data: map[string]any{"ambient": 12}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)
	batcher.Close()

	entries, err := l.GetByRequest("abc")
	if err != nil {
		t.Fatalf("GetByRequest() error = %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != EventType(eventbus.EventTypeRequest) {
		t.Errorf("entries = %+v", entries)
	}
	if ambient, _ := l.GetByType(EventType(eventbus.EventTypeAmbient), 10); len(ambient) != 0 {
		t.Errorf("ambient events recorded: %d", len(ambient))
	}
	if mutes, _ := l.GetByType(EventType(eventbus.EventTypeMute), 10); len(mutes) != 1 {
		t.Errorf("mute entries = %d, want 1", len(mutes))
	}
}
