package allocation

import (
	"context"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/invitation"
	"roomalloc/backend/internal/joinrequest"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/validate"
)

func (s *Service) CreateInvitation(ctx context.Context, req invitation.CreateRequest) (*models.Invitation, error) {
	inv, err := s.Invitations.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{
		Action:    models.AuditInvitationCreated,
		RoomID:    inv.RoomID,
		SessionID: inv.InviterSessionID,
		RecordID:  inv.ID,
		Detail:    inv.InviteeName,
	})
	return inv, nil
}

// AcceptInvitation returns the room the acceptor now occupies.
func (s *Service) AcceptInvitation(ctx context.Context, id string, acceptor models.Guest) (string, error) {
	roomID, err := s.Invitations.Accept(ctx, id, acceptor)
	if apperr.KindOf(err) == apperr.KindPartialFailure {
		s.record(ctx, models.AuditEvent{Action: models.AuditPartialFailure, RoomID: roomID, SessionID: acceptor.SessionID, RecordID: id, Detail: err.Error()})
	}
	if err != nil {
		return roomID, err
	}
	s.record(ctx, models.AuditEvent{Action: models.AuditInvitationAccepted, RoomID: roomID, SessionID: acceptor.SessionID, RecordID: id})
	return roomID, nil
}

func (s *Service) RejectInvitation(ctx context.Context, id, rejectorSessionID, rejectorName string) (*models.Invitation, error) {
	inv, err := s.Invitations.Reject(ctx, id, rejectorSessionID, rejectorName)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{Action: models.AuditInvitationRejected, RoomID: inv.RoomID, SessionID: rejectorSessionID, RecordID: id})
	return inv, nil
}

func (s *Service) CancelInvitation(ctx context.Context, id, inviterSessionID string) error {
	if err := s.Invitations.Cancel(ctx, id, inviterSessionID); err != nil {
		return err
	}
	s.record(ctx, models.AuditEvent{Action: models.AuditInvitationCanceled, SessionID: inviterSessionID, RecordID: id})
	return nil
}

func (s *Service) MarkInvitationNotified(ctx context.Context, id, inviterSessionID string) error {
	return s.Invitations.MarkNotified(ctx, id, inviterSessionID)
}

func (s *Service) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	return s.Invitations.Get(ctx, id)
}

// InvitationInbox groups what a participant sent and what is addressed to their name.
type InvitationInbox struct {
	Sent     []models.Invitation `json:"sent"`
	Received []models.Invitation `json:"received"`
}

func (s *Service) ListInvitations(ctx context.Context, sessionID, name string) (*InvitationInbox, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	sent, err := s.Invitations.ListForInviter(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	inbox := &InvitationInbox{Sent: nonNil(sent), Received: []models.Invitation{}}
	if name == "" {
		return inbox, nil
	}
	received, err := s.Invitations.ListForInvitee(ctx, name)
	if err != nil {
		return nil, err
	}
	inbox.Received = nonNil(received)
	return inbox, nil
}

func (s *Service) CreateJoinRequest(ctx context.Context, req joinrequest.CreateRequest) (*models.JoinRequest, error) {
	jr, err := s.JoinRequests.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{
		Action:    models.AuditJoinRequested,
		RoomID:    jr.RoomID,
		SessionID: jr.RequesterSessionID,
		RecordID:  jr.ID,
		Warnings:  jr.Warnings,
	})
	return jr, nil
}

// AcceptJoinRequest admits the requester. A room whose remaining slot is held
// by a pending invitation refuses the requester like any other caller.
func (s *Service) AcceptJoinRequest(ctx context.Context, id, targetSessionID string) (*models.JoinRequest, error) {
	jr, err := s.JoinRequests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	lock, err := s.Pending.Active(ctx, jr.RoomID)
	if err != nil {
		return nil, err
	}
	if !lock.Admits(jr.RequesterSessionID, now) {
		return nil, apperr.LockConflict(apperr.ReasonPending, lock.InviteeName, lock.Remaining(now),
			"room %s is held for an invited roommate", jr.RoomID)
	}

	resolved, err := s.JoinRequests.Accept(ctx, id, targetSessionID)
	if apperr.KindOf(err) == apperr.KindPartialFailure {
		s.record(ctx, models.AuditEvent{Action: models.AuditPartialFailure, RoomID: jr.RoomID, SessionID: jr.RequesterSessionID, RecordID: id, Detail: err.Error()})
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{
		Action:    models.AuditJoinAccepted,
		RoomID:    jr.RoomID,
		SessionID: jr.RequesterSessionID,
		RecordID:  id,
		Warnings:  jr.Warnings,
	})
	return resolved, nil
}

func (s *Service) RejectJoinRequest(ctx context.Context, id, targetSessionID string) (*models.JoinRequest, error) {
	jr, err := s.JoinRequests.Reject(ctx, id, targetSessionID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{Action: models.AuditJoinRejected, RoomID: jr.RoomID, SessionID: jr.RequesterSessionID, RecordID: id})
	return jr, nil
}

func (s *Service) DeleteJoinRequest(ctx context.Context, id, sessionID string) error {
	return s.JoinRequests.Delete(ctx, id, sessionID)
}

func (s *Service) GetJoinRequest(ctx context.Context, id string) (*models.JoinRequest, error) {
	return s.JoinRequests.Get(ctx, id)
}

type JoinRequestInbox struct {
	Incoming []models.JoinRequest `json:"incoming"`
	Outgoing []models.JoinRequest `json:"outgoing"`
}

func (s *Service) ListJoinRequests(ctx context.Context, sessionID string) (*JoinRequestInbox, error) {
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	incoming, err := s.JoinRequests.ListForTarget(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	outgoing, err := s.JoinRequests.ListForRequester(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &JoinRequestInbox{Incoming: nonNil(incoming), Outgoing: nonNil(outgoing)}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
