package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocero-ai/vocero/pkg/store"
)

// respondStoreError maps store sentinels to HTTP responses in one
// place. The claim contract: 404 unknown, 409 already claimed or
// otherwise unavailable, 410 expired.
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, store.ErrDispatchUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "dispatch_unavailable"})
	case errors.Is(err, store.ErrDispatchExpired):
		c.JSON(http.StatusGone, gin.H{"error": "dispatch_expired"})
	default:
		slog.Error("Unexpected store error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
