package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeStore struct {
	pending []Message
	sent    []string
	failed  []string
	dead    []string
}

func (f *fakeStore) FetchPending(_ context.Context, limit int) ([]Message, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id string, dead bool) error {
	if dead {
		f.dead = append(f.dead, id)
	} else {
		f.failed = append(f.failed, id)
	}
	return nil
}

type fakeSender struct {
	failIDs map[string]error
	seen    []string
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.seen = append(f.seen, msg.ID)
	if err, ok := f.failIDs[msg.ID]; ok {
		return err
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchOnce_DeliversAndMarks(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: "rfi.created"},
		{ID: "m2", Topic: "rfi.assigned"},
	}}
	sender := &fakeSender{}
	d := NewDispatcher(store, sender, discardLogger())

	sent, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(store.sent) != 2 {
		t.Errorf("marked sent = %v, want both", store.sent)
	}
}

func TestDispatchOnce_FailureLogsAndContinues(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: "rfi.created"},
		{ID: "m2", Topic: "rfi.responded"},
		{ID: "m3", Topic: "rfi.closed"},
	}}
	sender := &fakeSender{failIDs: map[string]error{"m2": errors.New("gateway down")}}
	d := NewDispatcher(store, sender, discardLogger())

	sent, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2 (m2 skipped)", sent)
	}
	// The failed message stays pending with its attempt counted; later
	// messages in the batch are still delivered.
	if len(store.failed) != 1 || store.failed[0] != "m2" {
		t.Errorf("failed = %v, want [m2]", store.failed)
	}
	if len(sender.seen) != 3 {
		t.Errorf("sender saw %v, want all three attempts", sender.seen)
	}
}

func TestDispatchOnce_ParksDeadAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{pending: []Message{
		{ID: "m1", Topic: "rfi.created", Attempts: 9},
	}}
	sender := &fakeSender{failIDs: map[string]error{"m1": errors.New("gateway down")}}
	d := NewDispatcher(store, sender, discardLogger())

	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.dead) != 1 || store.dead[0] != "m1" {
		t.Errorf("dead = %v, want [m1] after tenth failure", store.dead)
	}
}
