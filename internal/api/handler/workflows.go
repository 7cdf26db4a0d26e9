package handler

import (
	"net/http"
	"roomalloc/backend/internal/invitation"
	"roomalloc/backend/internal/joinrequest"
	"roomalloc/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type invitationBody struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	Inviter     models.Guest `json:"inviter"`
	InviteeName string       `json:"inviteeName"`
}

func (h *Handler) CreateInvitation(c *gin.Context) {
	var body invitationBody
	if !h.bind(c, &body) {
		return
	}
	body.Inviter.SessionID = session(c)
	inv, err := h.Engine.CreateInvitation(c.Request.Context(), invitation.CreateRequest{
		ID:          body.ID,
		RoomID:      body.RoomID,
		Inviter:     body.Inviter,
		InviteeName: body.InviteeName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// ListInvitations returns what the caller sent and, with ?name=, what was sent to that name.
func (h *Handler) ListInvitations(c *gin.Context) {
	inbox, err := h.Engine.ListInvitations(c.Request.Context(), session(c), c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

func (h *Handler) GetInvitation(c *gin.Context) {
	inv, err := h.Engine.GetInvitation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) AcceptInvitation(c *gin.Context) {
	var acceptor models.Guest
	if !h.bind(c, &acceptor) {
		return
	}
	acceptor.SessionID = session(c)
	roomID, err := h.Engine.AcceptInvitation(c.Request.Context(), c.Param("id"), acceptor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}

type rejectBody struct {
	Name string `json:"name"`
}

// RejectInvitation declines an invitation on behalf of the invitee named in the body.
func (h *Handler) RejectInvitation(c *gin.Context) {
	var body rejectBody
	if !h.bind(c, &body) {
		return
	}
	inv, err := h.Engine.RejectInvitation(c.Request.Context(), c.Param("id"), session(c), body.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkInvitationNotified(c *gin.Context) {
	if err := h.Engine.MarkInvitationNotified(c.Request.Context(), c.Param("id"), session(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CancelInvitation(c *gin.Context) {
	if err := h.Engine.CancelInvitation(c.Request.Context(), c.Param("id"), session(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type joinRequestBody struct {
	ID              string       `json:"id"`
	RoomID          string       `json:"roomId"`
	TargetSessionID string       `json:"targetSessionId"`
	Guest           models.Guest `json:"guest"`
}

func (h *Handler) CreateJoinRequest(c *gin.Context) {
	var body joinRequestBody
	if !h.bind(c, &body) {
		return
	}
	body.Guest.SessionID = session(c)
	jr, err := h.Engine.CreateJoinRequest(c.Request.Context(), joinrequest.CreateRequest{
		ID:              body.ID,
		RoomID:          body.RoomID,
		TargetSessionID: body.TargetSessionID,
		Guest:           body.Guest,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, jr)
}

func (h *Handler) ListJoinRequests(c *gin.Context) {
	inbox, err := h.Engine.ListJoinRequests(c.Request.Context(), session(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

func (h *Handler) GetJoinRequest(c *gin.Context) {
	jr, err := h.Engine.GetJoinRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jr)
}

func (h *Handler) AcceptJoinRequest(c *gin.Context) {
	jr, err := h.Engine.AcceptJoinRequest(c.Request.Context(), c.Param("id"), session(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jr)
}

func (h *Handler) RejectJoinRequest(c *gin.Context) {
	jr, err := h.Engine.RejectJoinRequest(c.Request.Context(), c.Param("id"), session(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jr)
}

func (h *Handler) DeleteJoinRequest(c *gin.Context) {
	if err := h.Engine.DeleteJoinRequest(c.Request.Context(), c.Param("id"), session(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
