package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordingSender) SendText(_ context.Context, destination, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, Message{Destination: destination, Text: text})
	return nil
}

func TestDispatcherDeliversAndDrainsOnStop(t *testing.T) {
	sender := &recordingSender{}
	m := metrics.New()
	d := NewDispatcher(sender, "admins@g.us", 10, m)

	d.Notify(Message{Text: "one"})
	d.Notify(Message{Destination: "628123@s.whatsapp.net", Text: "two"})
	d.Stop()

	require.Len(t, sender.sent, 2)
	require.Equal(t, "admins@g.us", sender.sent[0].Destination)
	require.Equal(t, "628123@s.whatsapp.net", sender.sent[1].Destination)
	require.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("sent")))

	// after Stop messages are ignored rather than panicking on a closed queue
	d.Notify(Message{Text: "late"})
	d.Stop()
	require.Len(t, sender.sent, 2)
}

func TestDispatcherFailuresAreCountedNotPropagated(t *testing.T) {
	sender := &recordingSender{err: errors.New("session logged out")}
	m := metrics.New()
	d := NewDispatcher(sender, "admins@g.us", 10, m)

	d.Notify(Message{Text: "hello"})
	d.Stop()

	require.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("failed")))
}

func TestDispatcherSkipsWithoutDestination(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "", 10, nil)
	d.Notify(Message{Text: "nowhere to go"})
	d.Stop()
	require.Empty(t, sender.sent)
}

func TestWhatsAppRelaySendText(t *testing.T) {
	var (
		got        whatsAppRequest
		path, auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":true,"message":"sent"}`))
	}))
	defer srv.Close()

	relay := NewWhatsAppRelay(srv.URL, "secret")
	relay.retryDelay = time.Millisecond

	require.NoError(t, relay.SendText(context.Background(), "12036304@g.us", "hi"))
	require.Equal(t, "/send-message", path)
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "12036304@g.us", got.To)
	require.Equal(t, "hi", got.Message)
	require.True(t, got.IsGroup)
}

func TestWhatsAppRelayRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":true}`))
	}))
	defer srv.Close()

	relay := NewWhatsAppRelay(srv.URL, "")
	relay.retryDelay = time.Millisecond

	require.NoError(t, relay.SendText(context.Background(), "628123@s.whatsapp.net", "hi"))
	require.Equal(t, int32(3), calls.Load())
}

func TestWhatsAppRelayDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	relay := NewWhatsAppRelay(srv.URL, "wrong")
	relay.retryDelay = time.Millisecond

	require.Error(t, relay.SendText(context.Background(), "628123@s.whatsapp.net", "hi"))
	require.Equal(t, int32(1), calls.Load())
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "Rp 100.123", formatAmount(100123))
	require.Equal(t, "Rp 999", formatAmount(999))
	require.Equal(t, "Rp 1.000.000", formatAmount(1000000))
}
