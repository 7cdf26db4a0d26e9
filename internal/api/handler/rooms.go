package handler

import (
	"net/http"
	"roomalloc/backend/internal/allocation"
	"roomalloc/backend/internal/models"
	"time"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Engine.Rooms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.Engine.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type reserveBody struct {
	HolderName string `json:"holderName"`
}

func (h *Handler) ReserveRoom(c *gin.Context) {
	var body reserveBody
	if c.Request.ContentLength > 0 && !h.bind(c, &body) {
		return
	}
	res, err := h.Engine.ReserveRoom(c.Request.Context(), c.Param("id"), session(c), body.HolderName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ReleaseRoom(c *gin.Context) {
	released, err := h.Engine.ReleaseRoom(c.Request.Context(), c.Param("id"), session(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

type commitBody struct {
	Guest    models.Guest  `json:"guest"`
	Capacity int           `json:"capacity"`
	Gender   models.Gender `json:"gender"`
}

// CommitRoom records the caller as a guest. The session id always comes from
// the token, never from the body.
func (h *Handler) CommitRoom(c *gin.Context) {
	var body commitBody
	if !h.bind(c, &body) {
		return
	}
	body.Guest.SessionID = session(c)
	body.Guest.ArrivedAt = time.Time{}

	ctx := c.Request.Context()
	roomID := c.Param("id")
	err := h.Engine.CommitRoom(ctx, allocation.CommitRequest{
		RoomID:   roomID,
		Guest:    body.Guest,
		Capacity: body.Capacity,
		Gender:   body.Gender,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	room, err := h.Engine.Room(ctx, roomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) CheckCompatibility(c *gin.Context) {
	var candidate models.Guest
	if !h.bind(c, &candidate) {
		return
	}
	candidate.SessionID = session(c)
	warnings, err := h.Engine.CheckCompatibility(c.Request.Context(), c.Param("id"), candidate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings, "approvalRequired": len(warnings) > 0})
}
