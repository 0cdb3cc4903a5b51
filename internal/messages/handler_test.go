package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegram/backend/internal/directory"
	"github.com/pulsegram/backend/internal/session"
	"github.com/pulsegram/backend/internal/storage/sqlite"
)

func newTestRouter(t *testing.T) (*gin.Engine, *directory.Store, *session.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Db.Close() })
	require.NoError(t, conn.Migrate())

	log := logrus.New()
	log.SetOutput(io.Discard)
	dir := directory.NewStore(conn.Db, directory.DriverSQLite, log)

	sessions := session.NewMemoryStore()
	r := gin.New()
	api := r.Group("/api/chat", session.Auth(sessions, "sid"))
	Register(api, dir)
	return r, dir, sessions
}

func get(t *testing.T, r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListMessagesPagesThroughHistory(t *testing.T) {
	r, dir, sessions := newTestRouter(t)
	sessions.Put("tok", session.Session{UserID: "bob"}, 0)

	conv, err := dir.CreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err = dir.AppendMessage(context.Background(), conv.ID, "alice", fmt.Sprintf("note %d", i), nil)
		require.NoError(t, err)
	}

	var collected []directory.Message
	cursor := ""
	for {
		path := fmt.Sprintf("/api/chat/conversations/%s/messages?limit=3", conv.ID)
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := get(t, r, path, "tok")
		require.Equal(t, http.StatusOK, w.Code)

		var page directory.Page
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		collected = append(collected, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, collected, 7)
	assert.Equal(t, "note 6", collected[0].Body)
	assert.Equal(t, "note 0", collected[6].Body)
}

func TestListMessagesForbiddenForNonParticipant(t *testing.T) {
	r, dir, sessions := newTestRouter(t)
	sessions.Put("tok", session.Session{UserID: "mallory"}, 0)

	conv, err := dir.CreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	w := get(t, r, "/api/chat/conversations/"+conv.ID+"/messages", "tok")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListMessagesUnknownCursorIsNotFound(t *testing.T) {
	r, dir, sessions := newTestRouter(t)
	sessions.Put("tok", session.Session{UserID: "alice"}, 0)

	conv, err := dir.CreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	w := get(t, r, "/api/chat/conversations/"+conv.ID+"/messages?cursor=no-such-id", "tok")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkReadClearsUnread(t *testing.T) {
	r, dir, sessions := newTestRouter(t)
	sessions.Put("tok", session.Session{UserID: "alice"}, 0)

	conv, err := dir.CreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	_, err = dir.AppendMessage(context.Background(), conv.ID, "bob", "unread me", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/conversations/"+conv.ID+"/read", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "tok"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		LastReadAt     string `json:"last_read_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, conv.ID, resp.ConversationID)
	assert.Equal(t, "alice", resp.UserID)
	assert.NotEmpty(t, resp.LastReadAt)

	summaries, err := dir.ListForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Zero(t, summaries[0].UnreadCount)
}
