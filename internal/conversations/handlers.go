package conversations

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/pulsegram/backend/internal/directory"
	"github.com/pulsegram/backend/internal/httpx"
	"github.com/pulsegram/backend/internal/session"
	"github.com/pulsegram/backend/internal/utils"
)

// The REST surface is a thin pass-through over the directory; the
// websocket core uses the very same store, so both views of
// conversation state share one source of truth.
type Service struct {
	Directory *directory.Store
}

type createReq struct {
	Kind               string   `json:"kind" binding:"required,oneof=DIRECT GROUP"`
	ParticipantUserID  string   `json:"participant_user_id"`
	Title              string   `json:"title" binding:"omitempty,max=80"`
	ParticipantUserIDs []string `json:"participant_user_ids"`
}

func Register(rg *gin.RouterGroup, dir *directory.Store) {
	s := Service{Directory: dir}
	rg.POST("/conversations", s.create)
	rg.GET("/conversations", s.listMine)
}

func (s Service) create(c *gin.Context) {
	uid := session.MustUserID(c)

	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var conv *directory.Conversation
	var err error
	if req.Kind == directory.KindDirect {
		conv, err = s.Directory.CreateDirect(c.Request.Context(), uid, req.ParticipantUserID)
	} else {
		conv, err = s.Directory.CreateGroup(c.Request.Context(), uid, req.Title, req.ParticipantUserIDs)
	}
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (s Service) listMine(c *gin.Context) {
	uid := session.MustUserID(c)

	summaries, err := s.Directory.ListForUser(c.Request.Context(), uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversations": summaries})
}
