package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWebhookSinkPublishOK(t *testing.T) {
	type delivery struct {
		event Event
		id    string
	}
	received := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- delivery{event: ev, id: r.Header.Get("X-Event-ID")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws := NewWebhookSink(srv.URL, 200*time.Millisecond, 4)
	defer ws.Close()

	at := time.Unix(1_700_000_000, 0).UTC()
	ev := WinnerResolved("main", "alice", 3, 400, at)
	ws.Publish(ev)

	select {
	case got := <-received:
		require.Equal(t, KindWinnerResolved, got.event.Kind)
		require.Equal(t, "alice", got.event.Address)
		require.Equal(t, uint64(3), got.event.RequestID)
		require.Equal(t, uint64(400), got.event.Amount)
		require.Equal(t, ev.ID, got.id)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWebhookSinkPublishDoesNotWaitForRemote(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws := NewWebhookSink(srv.URL, 10*time.Second, 1)
	defer ws.Close()
	defer close(release)

	start := time.Now()
	for i := 0; i < 10; i++ {
		ws.Publish(DrawRequested("main", uint64(i), time.Now()))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestWebhookSinkRemoteErrorAndBadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	for _, url := range []string{srv.URL, "://bad", ""} {
		ws := NewWebhookSink(url, 0, 0)
		ws.Publish(DrawRequested("main", 1, time.Now()))
		ws.Close()
		// publishing after close is ignored
		ws.Publish(DrawRequested("main", 2, time.Now()))
		ws.Close()
	}
}

type collectSink struct{ events []Event }

func (c *collectSink) Publish(ev Event) { c.events = append(c.events, ev) }

func TestMultiFansOut(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	Multi{a, Noop{}, LogSink{}, b}.Publish(EntryAccepted("main", "bob", 100, time.Now()))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, KindEntryAccepted, b.events[0].Kind)
	require.Equal(t, uint64(100), b.events[0].Amount)
}

func TestEventIDsUnique(t *testing.T) {
	now := time.Now()
	first := DrawCancelled("main", 1, now)
	second := DrawCancelled("main", 1, now)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, KindDrawCancelled, first.Kind)
}
