package events

import (
	"context"
	"errors"
	"testing"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("broker down")
	m := Multi{failingPublisher{boom}, rec, nil}

	err := m.Publish(context.Background(), Event{Type: VoucherValidated, VoucherID: "v1"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want broker error", err)
	}
	if len(rec.OfType(VoucherValidated)) != 1 {
		t.Fatal("recorder did not receive the event after an earlier publisher failed")
	}
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{Event{Type: LotAdvanced, LotID: "l1", VoucherID: "v1"}, "l1"},
		{Event{Type: VoucherCreated, VoucherID: "v1"}, "v1"},
		{Event{Type: ReconciliationCompleted}, "reconciliation.completed"},
	}
	for _, tt := range tests {
		if got := tt.e.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
	}
}
