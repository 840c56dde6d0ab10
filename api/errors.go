package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/spiritbooking/internal/domain"
	"github.com/gin-gonic/gin"
)

// StatusCode maps a lifecycle error to its HTTP status. Anything unclassified
// is a store or adapter failure.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *BookingHandler) fail(c *gin.Context, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("booking request failed")
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
