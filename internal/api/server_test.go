package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionkv/internal/hlc"
	"regionkv/internal/kv"
	"regionkv/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := kv.New(s, hlc.NewClock("n1"), "n1", "eu", logger)
	srv := httptest.NewServer(NewServer(core, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServer_WriteReadDelete(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/kv/user:1", map[string]any{
		"value": map[string]string{"name": "ada"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "stamp")
	var changeID string
	require.NoError(t, json.Unmarshal(body["change_id"], &changeID))
	require.NoError(t, uuid.Validate(changeID))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/kv/user:1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"ada"}`, string(body["value"]))

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/kv/user:1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/kv/user:1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `"not found"`, string(body["error"]))
}

func TestServer_WriteValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/kv/k", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing value field")

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/kv/k", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestServer_ChangesFeed(t *testing.T) {
	srv := newTestServer(t)

	for _, key := range []string{"a", "b", "c"} {
		resp, _ := doJSON(t, http.MethodPut, srv.URL+"/kv/"+key, map[string]any{"value": key})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/changes?since_seq=0&limit=2&origin_only=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var changes []storage.Change
	require.NoError(t, json.Unmarshal(body["changes"], &changes))
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].Key)
	assert.Equal(t, "eu", changes[0].Origin)
	assert.JSONEq(t, `2`, string(body["last_seq"]))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/changes?since_seq=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body["changes"], &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, "c", changes[0].Key)

	// Exhausted feed returns an empty array, not null.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/changes?since_seq=99", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body["changes"]))
	assert.JSONEq(t, `99`, string(body["last_seq"]))
}

func TestServer_ChangesFeedValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/changes?since_seq=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/changes?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_IngestBatch(t *testing.T) {
	srv := newTestServer(t)

	ch := storage.Change{
		ChangeID:  uuid.NewString(),
		Key:       "k",
		Value:     json.RawMessage(`"remote"`),
		Stamp:     hlc.Stamp{WallMS: 1000, Counter: 1, Node: "n2"},
		UpdatedBy: "us",
		Origin:    "us",
		Op:        storage.OpUpsert,
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/changes/ingest", map[string]any{
		"changes": []storage.Change{ch},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `1`, string(body["applied"]))

	// Redelivery: accepted, zero applied.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/changes/ingest", map[string]any{
		"changes": []storage.Change{ch},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `0`, string(body["applied"]))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/kv/k", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"remote"`, string(body["value"]))
}

func TestServer_IngestMalformedStamp(t *testing.T) {
	srv := newTestServer(t)

	payload := `{"changes":[{"change_id":"` + uuid.NewString() + `","key":"k","value":1,"stamp":"garbage","updated_by":"us","op":"upsert"}]}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/changes/ingest", bytes.NewBufferString(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
	assert.JSONEq(t, `"n1"`, string(body["node"]))
	assert.JSONEq(t, `"eu"`, string(body["region"]))
}
