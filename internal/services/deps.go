package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ovotrack/server/internal/catalog"
	"ovotrack/server/internal/events"
	"ovotrack/server/internal/repository"
)

const dateLayout = "2006-01-02"

var tracer = otel.Tracer("ovotrack/services")

// Deps are the collaborators shared by the workflow services
type Deps struct {
	Store     repository.Store
	Catalog   *catalog.Catalog
	Publisher events.Publisher
	Log       *logrus.Logger
	// Location is the plant time zone used for ledger dates and voucher numbering
	Location  *time.Location
	Now       func() time.Time
	BatchSize int
}

func (d Deps) withDefaults() Deps {
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Log == nil {
		d.Log = logrus.New()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 400
	}
	return d
}

// publish delivers e after commit; failures are logged and never undo the command
func (d Deps) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = d.Now().UTC()
	}
	if err := d.Publisher.Publish(ctx, e); err != nil {
		d.Log.WithError(err).WithFields(logrus.Fields{
			"event":      e.Type,
			"voucher_id": e.VoucherID,
			"lot_id":     e.LotID,
		}).Warn("events.publish_failed")
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
