package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/util/testutil"
)

func dial(t *testing.T, srv *httptest.Server, tok string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + tok
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) map[string]interface{} {
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m map[string]interface{}
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func TestWebsocketSession(t *testing.T) {
	s, srv := newTestService(t)
	tok := token(t, "t1", "automata:write:r1")
	counter(t, s, srv, tok)

	c := dial(t, srv, tok)

	require.NoError(t, c.WriteJSON(&Frame{Op: "subscribe", AutomataID: "a1", RequestID: "1"}))
	m := read(t, c)
	require.Equal(t, "snapshot", m["type"])
	require.Equal(t, "000000", m["version"])
	m = read(t, c)
	require.Equal(t, "result", m["type"])
	require.Equal(t, "1", m["requestId"])

	// An event from another client.
	r := call(t, srv, "POST", "/v1/automata/a1/events", tok, map[string]interface{}{
		"eventType": "INCREMENT",
		"data":      map[string]interface{}{"amount": 2},
	})
	require.Equal(t, http.StatusOK, r.Status, string(r.Raw))

	m = read(t, c)
	require.Equal(t, "stateUpdate", m["type"])
	require.Equal(t, "000001", m["version"])
	require.Equal(t, "INCREMENT", m["eventType"])
	require.Equal(t, map[string]interface{}{"count": 2.0}, m["state"])

	// An event over the websocket: the update and then the result.
	require.NoError(t, c.WriteJSON(&Frame{
		Op:         "event",
		RequestID:  "2",
		AutomataID: "a1",
		EventType:  "INCREMENT",
		Data:       map[string]interface{}{"amount": 3},
	}))
	m = read(t, c)
	require.Equal(t, "stateUpdate", m["type"])
	require.Equal(t, "000002", m["version"])
	m = read(t, c)
	require.Equal(t, "result", m["type"])
	require.Equal(t, "2", m["requestId"])
	require.Equal(t, "000002", m["result"].(map[string]interface{})["newVersion"])

	require.NoError(t, c.WriteJSON(&Frame{Op: "event", RequestID: "3", AutomataID: "a1", EventType: "FOO"}))
	m = read(t, c)
	require.Equal(t, "error", m["type"])
	require.Equal(t, "UnknownEventType", m["code"])

	require.NoError(t, c.WriteJSON(&Frame{Op: "unsubscribe", AutomataID: "a1", RequestID: "4"}))
	m = read(t, c)
	require.Equal(t, "result", m["type"])
	require.Equal(t, 0, s.Registry.Count("a1"))
}

func TestWebsocketForbidden(t *testing.T) {
	s, srv := newTestService(t)
	counter(t, s, srv, token(t, "t1", "automata:write:r1"))

	c := dial(t, srv, token(t, "t1", "automata:read:r2"))
	require.NoError(t, c.WriteJSON(&Frame{Op: "subscribe", AutomataID: "a1"}))
	m := read(t, c)
	require.Equal(t, "error", m["type"])
	require.Equal(t, "Forbidden", m["code"])

	require.NoError(t, c.WriteJSON(&Frame{Op: "dance", AutomataID: "a1"}))
	m = read(t, c)
	require.Equal(t, "BadRequest", m["code"])

	require.Equal(t, 0, s.Registry.Count("a1"))
}

func TestWebsocketDisconnect(t *testing.T) {
	s, srv := newTestService(t)
	tok := token(t, "t1", "automata:read:*")
	counter(t, s, srv, token(t, "t1", "automata:write:r1"))

	c := dial(t, srv, tok)
	require.NoError(t, c.WriteJSON(&Frame{Op: "subscribe", AutomataID: "a1"}))
	read(t, c)
	read(t, c)
	require.Equal(t, 1, s.Registry.Count("a1"))

	c.Close()
	require.True(t, testutil.Eventually(5*time.Second, func() bool {
		return s.Registry.Count("a1") == 0
	}))
}

func TestWebsocketRequiresToken(t *testing.T) {
	_, srv := newTestService(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
