package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulsegram/backend/internal/httpx"
	"github.com/pulsegram/backend/internal/session"
)

func newUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
}

// RegisterWS mounts GET /ws. The session check is the connection gate:
// it runs exactly once, before the upgrade, and no event handler ever
// runs on a connection that failed it.
func RegisterWS(rg *gin.RouterGroup, hub *Hub, sessions session.Store, cookieName, allowedOrigin string) {
	upgrader := newUpgrader(allowedOrigin)

	rg.GET("/ws", func(c *gin.Context) {
		token := ""
		if cookie, err := c.Request.Cookie(cookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			httpx.Err(c, http.StatusUnauthorized, "Unauthorized: missing session")
			return
		}

		sess, err := sessions.Get(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				httpx.Err(c, http.StatusUnauthorized, "Unauthorized: expired session")
				return
			}
			// Fail closed on any decode or store failure.
			httpx.Err(c, http.StatusUnauthorized, "Unauthorized: invalid session")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			UserID:    sess.UserID,
			SessionID: token,
			hub:       hub,
			conn:      conn,
			send:      make(chan []byte, 256),
			closed:    make(chan struct{}),
		}
		hub.register(c.Request.Context(), client)

		go client.writePump()
		go client.readPump()
	})
}
