package handler

import (
	"log/slog"
	"roomalloc/backend/internal/allocation"
	"roomalloc/backend/internal/hub"
	"roomalloc/backend/internal/localization"

	"github.com/gin-gonic/gin"
)

// Handler містить посилання на движок розселення, Hub і локалізацію
type Handler struct {
	Engine    *allocation.Service
	Hub       *hub.ManagerService
	Localizer *localization.Localizer
	Sessions  *SessionIssuer
	Log       *slog.Logger
}

func NewHandler(engine *allocation.Service, h *hub.ManagerService, loc *localization.Localizer, sessions *SessionIssuer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Engine:    engine,
		Hub:       h,
		Localizer: loc,
		Sessions:  sessions,
		Log:       log.With("component", "http"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/session", h.NewSession)
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/", h.RequireSession())

	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.POST("/rooms/:id/reservation", h.ReserveRoom)
	api.DELETE("/rooms/:id/reservation", h.ReleaseRoom)
	api.POST("/rooms/:id/guests", h.CommitRoom)
	api.POST("/rooms/:id/compatibility", h.CheckCompatibility)

	api.GET("/invitations", h.ListInvitations)
	api.POST("/invitations", h.CreateInvitation)
	api.GET("/invitations/:id", h.GetInvitation)
	api.POST("/invitations/:id/accept", h.AcceptInvitation)
	api.POST("/invitations/:id/reject", h.RejectInvitation)
	api.POST("/invitations/:id/notified", h.MarkInvitationNotified)
	api.DELETE("/invitations/:id", h.CancelInvitation)

	api.GET("/join-requests", h.ListJoinRequests)
	api.POST("/join-requests", h.CreateJoinRequest)
	api.GET("/join-requests/:id", h.GetJoinRequest)
	api.POST("/join-requests/:id/accept", h.AcceptJoinRequest)
	api.POST("/join-requests/:id/reject", h.RejectJoinRequest)
	api.DELETE("/join-requests/:id", h.DeleteJoinRequest)
}
