package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsegram/backend/internal/directory"
)

func OK(c *gin.Context, v any) {
	c.JSON(200, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// ErrFrom maps directory errors onto HTTP status codes so REST handlers
// stay thin pass-throughs over the store.
func ErrFrom(c *gin.Context, err error) {
	switch {
	case directory.IsValidation(err):
		Err(c, http.StatusBadRequest, err.Error())
	case directory.IsForbidden(err):
		Err(c, http.StatusForbidden, err.Error())
	case directory.IsNotFound(err):
		Err(c, http.StatusNotFound, err.Error())
	default:
		Err(c, http.StatusInternalServerError, "internal error")
	}
}
