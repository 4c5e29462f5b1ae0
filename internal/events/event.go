// Package events carries committed domain changes to subscribers outside the
// store transaction: kafka for other services, websocket for dashboards.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type names a committed domain change
type Type string

const (
	VoucherCreated          Type = "voucher.created"
	VoucherValidated        Type = "voucher.validated"
	VoucherRejected         Type = "voucher.rejected"
	LotAdvanced             Type = "lot.advanced"
	StockAdjusted           Type = "stock.adjusted"
	ReconciliationCompleted Type = "reconciliation.completed"
)

// StockChange is the snapshot quantity of one SKU after the change committed
type StockChange struct {
	Space    string `json:"space"`
	SkuCode  string `json:"sku_code"`
	Quantity int64  `json:"quantity"`
}

// Event is published after commit. Publication is best effort.
type Event struct {
	Type        Type          `json:"type"`
	At          time.Time     `json:"at"`
	ActorName   string        `json:"actor_name,omitempty"`
	VoucherID   string        `json:"voucher_id,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	LotID       string        `json:"lot_id,omitempty"`
	LotState    string        `json:"lot_state,omitempty"`
	MovementIDs []string      `json:"movement_ids,omitempty"`
	Stock       []StockChange `json:"stock,omitempty"`
}

// Key is the partition key: events of the same voucher or lot stay ordered
func (e Event) Key() string {
	switch {
	case e.LotID != "":
		return e.LotID
	case e.VoucherID != "":
		return e.VoucherID
	}
	return string(e.Type)
}

// Publisher delivers events to one destination
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory; used by tests and the reconcile command
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
