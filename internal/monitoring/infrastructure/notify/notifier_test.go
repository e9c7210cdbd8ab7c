package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
)

func sampleNotification() domain.AlertNotification {
	return domain.AlertNotification{
		RuleID:    "latency-high",
		EventID:   "ev-1",
		Severity:  domain.SeverityCritical,
		Message:   "[FIRING] latency",
		State:     domain.StateFiring,
		Value:     1.5,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSendsIdempotencyKey(t *testing.T) {
	var got domain.AlertNotification
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(IdempotencyHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	require.NoError(t, n.Notify(context.Background(), sampleNotification()))
	assert.Equal(t, "latency-high:firing:ev-1", key)
	assert.Equal(t, "ev-1", got.EventID)
	assert.Equal(t, domain.StateFiring, got.State)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, RetryCount: 3, RetryWait: time.Millisecond})
	require.NoError(t, n.Notify(context.Background(), sampleNotification()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, RetryCount: 3, RetryWait: time.Millisecond})
	err := n.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

type errNotifier struct{ err error }

func (e errNotifier) Notify(context.Context, domain.AlertNotification) error { return e.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{LogNotifier{}, errNotifier{err: boom}, LogNotifier{}}
	require.ErrorIs(t, m.Notify(context.Background(), sampleNotification()), boom)
	assert.NoError(t, Multi{LogNotifier{}}.Notify(context.Background(), sampleNotification()))
}
