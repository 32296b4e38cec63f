package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcore/pkg/api"
	"chatcore/pkg/chat"
	"chatcore/pkg/gateway"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func fastOptions() Options {
	return Options{
		FailureThreshold: 1,
		MinBackoff:       10 * time.Millisecond,
		MaxBackoff:       50 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
		RetryPushAfter:   time.Hour,
	}
}

// newTestStack wires the real engine, service and gateway behind the full
// HTTP handler, the same shape the server binary runs.
func newTestStack(t *testing.T) *httptest.Server {
	t.Helper()
	eng := store.NewMemory()
	svc := chat.NewService(eng, chat.Options{})
	gw := gateway.New(svc, chat.NewPresence(0), chat.NewTyping(0), gateway.Options{})
	go gw.Run()
	t.Cleanup(func() {
		gw.Stop()
		svc.Close()
		_ = eng.Close()
	})
	srv := httptest.NewServer(api.Handler(api.Options{Gateway: gw, Ready: eng.Ready}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDemotesToPollingWhenPushUnavailable(t *testing.T) {
	delta := models.Delta{
		Channel:    "general",
		Messages:   []models.Message{{ID: "m-1", Channel: "general", Body: "from poll", Seq: 1, LastSeq: 1}},
		DeletedIDs: []string{},
		Typers:     []string{},
		Presence:   []models.PresenceEntry{},
		NextCursor: 1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, _ *http.Request) {
		// push endpoint is down; only the poll surface answers
		http.Error(w, "no upgrade", http.StatusNotImplemented)
	})
	mux.HandleFunc("/v1/channels/general/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(delta)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := NewAgent("general", "alice")
	tr := NewTransport(srv.URL, "general", "alice", "Alice", a, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() { defer close(done); tr.Run(ctx) }()

	waitFor(t, func() bool { return tr.State() == ConnectedPoll }, "transport never demoted to polling")
	waitFor(t, func() bool { return len(a.Messages()) == 1 }, "poll delta never reached the agent")
	require.Equal(t, "from poll", a.Messages()[0].Body)
	require.Equal(t, uint64(1), a.Cursor())

	cancel()
	<-done
	require.Equal(t, Disconnected, tr.State())
}

func TestPushRoundtrip(t *testing.T) {
	srv := newTestStack(t)

	a := NewAgent("general", "alice")
	tr := NewTransport(srv.URL, "general", "alice", "Alice", a, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tr.Run(ctx)

	waitFor(t, func() bool { return tr.State() == ConnectedPush }, "transport never connected over push")

	local, err := tr.Send(ctx, "hello", models.KindText)
	require.NoError(t, err)
	require.NotEmpty(t, local.ClientID)

	waitFor(t, func() bool { return len(a.Pending()) == 0 }, "send was never confirmed")
	msgs := a.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Body)
	require.Equal(t, local.ClientID, msgs[0].ClientID)
	require.Equal(t, uint64(1), msgs[0].Seq)
	require.NotEmpty(t, msgs[0].ID)
}

func TestPendingSendsFlushOnConnect(t *testing.T) {
	srv := newTestStack(t)

	// queued while offline
	a := NewAgent("general", "alice")
	a.OptimisticSend("queued while offline", models.KindText)

	tr := NewTransport(srv.URL, "general", "alice", "Alice", a, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tr.Run(ctx)

	waitFor(t, func() bool { return len(a.Pending()) == 0 }, "queued send never flushed")
	waitFor(t, func() bool {
		msgs := a.Messages()
		return len(msgs) == 1 && msgs[0].ID != ""
	}, "flushed send never confirmed")
}
