package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out string) []map[string]interface{} {
	t.Helper()
	var msgs []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		msgs = append(msgs, m)
	}
	return msgs
}

func TestStdioProxy_ForwardsWithKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": map[string]string{"echo": req["method"].(string)}})
	}))
	defer srv.Close()

	p := &StdioProxy{serverURL: srv.URL + "/", apiKey: "k1"}
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\"}\n\n{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"tools/list\"}\n")
	var out bytes.Buffer
	require.NoError(t, p.RunWithIO(in, &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 2)
	assert.Equal(t, float64(1), msgs[0]["id"])
	assert.Equal(t, "tools/list", msgs[1]["result"].(map[string]interface{})["echo"])
	assert.Equal(t, "k1", gotKey)
}

func TestStdioProxy_RelaysRPCErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"jsonrpc":"2.0","id":5,"error":{"code":-32002,"message":"Rate limit exceeded"}}`))
	}))
	defer srv.Close()

	p := &StdioProxy{serverURL: srv.URL + "/"}
	var out bytes.Buffer
	require.NoError(t, p.RunWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"tools/call"}`+"\n"), &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(-32002), msgs[0]["error"].(map[string]interface{})["code"])
}

func TestStdioProxy_TransportFailure(t *testing.T) {
	p := &StdioProxy{serverURL: "http://127.0.0.1:1/"}
	var out bytes.Buffer
	require.NoError(t, p.RunWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":"abc","method":"initialize"}`+"\n"), &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, "abc", msgs[0]["id"])
	assert.Equal(t, float64(CodeTransportError), msgs[0]["error"].(map[string]interface{})["code"])
}

func TestStdioProxy_NonRPCErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &StdioProxy{serverURL: srv.URL + "/"}
	var out bytes.Buffer
	require.NoError(t, p.RunWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":9,"method":"initialize"}`+"\n"), &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	errObj := msgs[0]["error"].(map[string]interface{})
	assert.Equal(t, float64(CodeTransportError), errObj["code"])
	assert.Contains(t, errObj["message"], "502")
}

func TestExtractID(t *testing.T) {
	for msg, want := range map[string]string{
		`{"id":7}`:       `7`,
		`{"id":"abc"}`:   `"abc"`,
		`not json`:       `null`,
		`{"method":"x"}`: `null`,
	} {
		got, err := json.Marshal(extractID([]byte(msg)))
		require.NoError(t, err)
		assert.JSONEq(t, want, string(got), msg)
	}
}

func TestStdioProxy_NotificationsGetNoReply(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	p := &StdioProxy{serverURL: srv.URL + "/"}
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, p.RunWithIO(in, &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(1), msgs[0]["id"])
	assert.Equal(t, int32(1), hits.Load())
}

func TestIsNotification(t *testing.T) {
	assert.True(t, isNotification([]byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{}}`)))
	assert.False(t, isNotification([]byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`)))
	assert.False(t, isNotification([]byte(`{"jsonrpc":"2.0","id":3}`)))
	assert.False(t, isNotification([]byte(`[1,2]`)))
}
