package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chatcore/pkg/chat"
	"chatcore/pkg/gateway"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
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
	srv := httptest.NewServer(Handler(Options{Gateway: gw, Ready: eng.Ready}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, user string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestProbesAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestIdentityRequired(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/messages", "", map[string]string{"body": "hi"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendThenPollRoundtrip(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{"one", "two", "three"} {
		resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/messages", "alice", map[string]string{"body": body})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	}

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=0", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var delta models.Delta
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Len(t, delta.Messages, 3)
	require.Equal(t, "one", delta.Messages[0].Body)
	require.Equal(t, "three", delta.Messages[2].Body)
	require.Equal(t, uint64(3), delta.NextCursor)
	require.Empty(t, delta.DeletedIDs)

	// both participants show up in presence after their requests
	require.Len(t, delta.Presence, 2)

	// nothing new when polling from the returned cursor
	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=3", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Empty(t, delta.Messages)
}

func TestEditAndDeleteFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/messages", "alice", map[string]string{"body": "draft"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var m models.Message
	require.NoError(t, json.Unmarshal(raw, &m))

	// a different user cannot edit or delete
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/v1/messages/"+m.ID, "mallory", map[string]string{"body": "hijack"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/messages/"+m.ID, "mallory", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = doJSON(t, http.MethodPut, srv.URL+"/v1/messages/"+m.ID, "alice", map[string]string{"body": "final"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var edited models.Message
	require.NoError(t, json.Unmarshal(raw, &edited))
	require.Equal(t, "final", edited.Body)
	require.NotZero(t, edited.EditedTS)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/messages/"+m.ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the tombstone shows up in the delta as a deleted id
	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=0", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var delta models.Delta
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Empty(t, delta.Messages)
	require.Equal(t, []string{m.ID}, delta.DeletedIDs)

	// deleting again still succeeds
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/messages/"+m.ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestValidationAndNotFoundStatuses(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/messages", "alice", map[string]string{"body": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/v1/messages/unknown", "alice", map[string]string{"body": "x"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=bogus", "alice", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?limit=bogus", "alice", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTypingSurfacesInDelta(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/typing", "alice", map[string]bool{"typing": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=0", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var delta models.Delta
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Equal(t, []string{"alice"}, delta.Typers)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/typing", "alice", map[string]bool{"typing": false})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/channels/general/events?cursor=0", "bob", nil)
	require.NoError(t, json.Unmarshal(raw, &delta))
	require.Empty(t, delta.Typers)
}

func TestPresenceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/channels/general/messages", "alice", map[string]string{"body": "hi"})

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/presence", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Users []models.PresenceEntry `json:"users"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Users, 1, "only alice has activity before bob's request resolves")
	require.Equal(t, "alice", out.Users[0].UserID)
	require.True(t, out.Users[0].Online)
}
