package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/mq"
)

type sample struct {
	name   string
	labels map[string]string
	value  float64
}

type fakeRecorder struct{ samples []sample }

func (f *fakeRecorder) Record(name string, labels map[string]string, value float64) {
	f.samples = append(f.samples, sample{name, labels, value})
}

func newHandler(t *testing.T) (*OrderEventsHandler, *fakeRecorder) {
	t.Helper()
	d, err := db.Init(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, AutoMigrate(d.DB))
	rec := &fakeRecorder{}
	return NewOrderEventsHandler(d.DB, rec), rec
}

func message(t *testing.T, eventID, eventType string, payload any) *mq.Message {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return &mq.Message{
		Topic:   "orders",
		Key:     "ORD1",
		Value:   b,
		Headers: map[string]string{"event_id": eventID, "event_type": eventType},
	}
}

func TestOrderCreatedRecordedOnce(t *testing.T) {
	h, rec := newHandler(t)
	ctx := context.Background()
	msg := message(t, "e-1", domain.EventTypeOrderCreated, domain.OrderCreatedEvent{
		OrderID:     "ORD1",
		Items:       []domain.Item{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 3}},
		TotalAmount: decimal.RequireFromString("12.5"),
	})

	require.NoError(t, h.Handle(ctx, msg))
	require.NoError(t, h.Handle(ctx, msg))

	require.Len(t, rec.samples, 3)
	assert.Equal(t, sample{"orders_created", nil, 1}, rec.samples[0])
	assert.Equal(t, sample{"order_units", nil, 5}, rec.samples[1])
	assert.Equal(t, sample{"order_amount", nil, 12.5}, rec.samples[2])
}

func TestStatusChangedLabelled(t *testing.T) {
	h, rec := newHandler(t)
	msg := message(t, "e-2", domain.EventTypeOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID: "ORD1",
		From:    domain.StatusCreated,
		To:      domain.StatusCancelled,
	})

	require.NoError(t, h.Handle(context.Background(), msg))
	require.Len(t, rec.samples, 1)
	assert.Equal(t, map[string]string{"to": "CANCELLED"}, rec.samples[0].labels)
}

func TestUndecodablePayloadAcknowledged(t *testing.T) {
	h, rec := newHandler(t)
	msg := &mq.Message{
		Value:   []byte("{not json"),
		Headers: map[string]string{"event_id": "e-3", "event_type": domain.EventTypeOrderCreated},
	}
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Empty(t, rec.samples)
}
