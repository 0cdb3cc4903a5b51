package messages

import (
	"github.com/gin-gonic/gin"

	"github.com/pulsegram/backend/internal/directory"
	"github.com/pulsegram/backend/internal/httpx"
	"github.com/pulsegram/backend/internal/session"
)

type Service struct {
	Directory *directory.Store
}

type pageReq struct {
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

func Register(rg *gin.RouterGroup, dir *directory.Store) {
	s := Service{Directory: dir}
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/conversations/:id/read", s.markRead)
}

func (s Service) list(c *gin.Context) {
	uid := session.MustUserID(c)
	cid := c.Param("id")

	var q pageReq
	_ = c.ShouldBindQuery(&q)

	page, err := s.Directory.ListMessages(c.Request.Context(), cid, uid, q.Limit, q.Cursor)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	httpx.OK(c, page)
}

func (s Service) markRead(c *gin.Context) {
	uid := session.MustUserID(c)
	cid := c.Param("id")

	readAt, err := s.Directory.MarkRead(c.Request.Context(), cid, uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	httpx.OK(c, gin.H{
		"conversation_id": cid,
		"user_id":         uid,
		"last_read_at":    readAt,
	})
}
