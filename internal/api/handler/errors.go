package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maya/rewear/internal/apperr"
)

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrDimension):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrIndexUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
