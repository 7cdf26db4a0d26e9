package handler

import (
	"net/http"
	"roomalloc/backend/internal/apperr"
	"strconv"

	"github.com/gin-gonic/gin"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindLockConflict:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) lang(c *gin.Context) string {
	return h.Localizer.Negotiate(c.GetHeader("Accept-Language"))
}

func (h *Handler) abort(c *gin.Context, status int, key string) {
	c.AbortWithStatusJSON(status, gin.H{"error": key, "message": h.Localizer.GetString(h.lang(c), key)})
}

// fail renders err. Engine errors keep their kind and reason so clients can
// branch on them; anything else is logged and hidden behind a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		h.Log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		h.abort(c, http.StatusInternalServerError, "error.internal")
		return
	}

	args := map[string]string{
		"detail":  e.Message,
		"holder":  e.Holder,
		"seconds": strconv.Itoa(e.RemainingSeconds()),
	}
	body := gin.H{
		"error":   string(e.Kind),
		"reason":  string(e.Reason),
		"detail":  e.Message,
		"message": h.Localizer.Format(h.lang(c), "error."+string(e.Reason), args),
	}
	switch e.Kind {
	case apperr.KindLockConflict:
		body["holder"] = e.Holder
		body["remainingSeconds"] = e.RemainingSeconds()
	case apperr.KindPartialFailure:
		body["partial"] = true
		h.Log.ErrorContext(c.Request.Context(), "workflow partially applied", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(statusFor(e.Kind), body)
}

// bind decodes the JSON body into dst, reporting malformed input as a validation error.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperr.Validation("malformed request body: %v", err))
		return false
	}
	return true
}
