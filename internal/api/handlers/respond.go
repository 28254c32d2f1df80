package handlers

import (
	"net/http"

	"example.com/logistics/services/fulfillment/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrCyclicBOM):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInsufficientStock),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrOrderNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}
