package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/stemsi/certify-backend/internal/websocket"
)

func dialStream(t *testing.T, s *testServer, cookie *http.Cookie) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/attempts/current/stream"
	header := http.Header{}
	header.Add("Cookie", cookie.Name+"="+cookie.Value)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func TestAttemptStream_AutosaveAndSubmit(t *testing.T) {
	s := newTestServer(t, false)
	_, cookie := s.start(t)
	conn := dialStream(t, s, cookie)
	q := s.exam.Questions

	require.NoError(t, conn.WriteJSON(gin.H{"action": "ping"}))
	var pong ws.PongResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.EventPong, pong.Event)

	require.NoError(t, conn.WriteJSON(gin.H{
		"action":  "autosave",
		"answers": []gin.H{answer(q[0], 0), answer(q[1], 0), answer(q[2], 0)},
	}))
	var saved ws.SavedResponse
	require.NoError(t, conn.ReadJSON(&saved))
	assert.Equal(t, ws.EventSaved, saved.Event)
	assert.Equal(t, 3, saved.Count)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "submit"}))
	var graded ws.GradedResponse
	require.NoError(t, conn.ReadJSON(&graded))
	assert.Equal(t, ws.EventGraded, graded.Event)
	require.NotNil(t, graded.Attempt.Score)
	assert.Equal(t, 100, *graded.Attempt.Score)
	assert.True(t, *graded.Attempt.Passed)

	// The server closes the stream after submission.
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestAttemptStream_RejectsInvalidBatch(t *testing.T) {
	s := newTestServer(t, false)
	_, cookie := s.start(t)
	conn := dialStream(t, s, cookie)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "autosave", "answers": []gin.H{}}))
	var resp ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, ws.EventError, resp.Event)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "cheat"}))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "INVALID_PAYLOAD", resp.Code)
}

func TestAttemptStream_RequiresSession(t *testing.T) {
	s := newTestServer(t, false)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/attempts/current/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

