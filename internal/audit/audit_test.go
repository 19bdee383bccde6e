package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/store"
	"github.com/MrEthical07/panelauth/store/memory"
)

type failingSink struct {
	calls atomic.Int64
}

func (s *failingSink) Log(context.Context, Event) (string, error) {
	s.calls.Add(1)
	return "", errors.New("sink down")
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Log(_ context.Context, e Event) (string, error) {
	<-s.gate
	return e.ID, nil
}

func TestStoreSinkPersistsEvent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	sink := NewStoreSink(st)

	id, err := sink.Log(ctx, Event{
		UserID:   "u1",
		Action:   "login.success",
		Category: CategoryAuth,
		Metadata: map[string]any{"method": "password"},
		Success:  true,
	})
	if err != nil || id == "" {
		t.Fatalf("Log: %q %v", id, err)
	}

	entries, err := st.QueryActivity(ctx, store.Where(store.Eq(store.FieldAction, "login.success")))
	if err != nil {
		t.Fatalf("QueryActivity: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Severity != SeverityInfo {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	id, err := sink.Log(context.Background(), Event{ID: "fixed", Action: "logout", Success: true})
	if err != nil || id != "fixed" {
		t.Fatalf("Log: %q %v", id, err)
	}

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != "logout" || got.ID != "fixed" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestMultiSinkReportsFirstErrorAfterFanOut(t *testing.T) {
	ch := NewChannelSink(1)
	failing := &failingSink{}

	id, err := MultiSink{failing, ch}.Log(context.Background(), Event{Action: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	select {
	case e := <-ch.Events():
		if e.ID != id {
			t.Fatalf("id mismatch %q != %q", e.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("second sink not called")
	}
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil); d != nil {
		t.Fatal("expected nil dispatcher")
	}
	var d *Dispatcher
	if _, err := d.Log(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	d.Close()
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	ch := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, ch, logging.NewNop())

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		id, err := d.Log(context.Background(), Event{Action: "login.failed"})
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
		ids[id] = true
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case e := <-ch.Events():
			if !ids[e.ID] {
				t.Fatalf("unexpected id %q", e.ID)
			}
		default:
			t.Fatalf("only %d events delivered", i)
		}
	}

	if _, err := d.Log(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	var dropped int
	for i := 0; i < 10; i++ {
		if _, err := d.Log(context.Background(), Event{}); errors.Is(err, ErrDropped) {
			dropped++
		}
	}
	close(sink.gate)
	d.Close()

	if dropped == 0 || uint64(dropped) != d.Dropped() {
		t.Fatalf("dropped=%d counter=%d", dropped, d.Dropped())
	}
}

func TestDispatcherCountsSinkFailures(t *testing.T) {
	sink := &failingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, nil)
	for i := 0; i < 3; i++ {
		if _, err := d.Log(context.Background(), Event{}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	d.Close()

	if d.Failed() != 3 || sink.calls.Load() != 3 {
		t.Fatalf("failed=%d calls=%d", d.Failed(), sink.calls.Load())
	}
}
