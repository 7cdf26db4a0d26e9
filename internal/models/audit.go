package models

import (
	"github.com/lib/pq" // Необхідний для pq.StringArray
	"gorm.io/gorm"
)

type AuditAction string

const (
	AuditRoomReserved       AuditAction = "room_reserved"
	AuditRoomCommitted      AuditAction = "room_committed"
	AuditGuestRemoved       AuditAction = "guest_removed"
	AuditInvitationCreated  AuditAction = "invitation_created"
	AuditInvitationAccepted AuditAction = "invitation_accepted"
	AuditInvitationRejected AuditAction = "invitation_rejected"
	AuditInvitationCanceled AuditAction = "invitation_cancelled"
	AuditJoinRequested      AuditAction = "join_requested"
	AuditJoinAccepted       AuditAction = "join_accepted"
	AuditJoinRejected       AuditAction = "join_rejected"
	AuditPartialFailure     AuditAction = "partial_failure"
)

// AuditEvent is one row of the allocation audit log kept in PostgreSQL.
type AuditEvent struct {
	gorm.Model
	Action    AuditAction    `gorm:"index;size:32"`
	RoomID    string         `gorm:"index;size:32"`
	SessionID string         `gorm:"size:128"`
	RecordID  string         `gorm:"size:128"` // invitation або join request
	Warnings  pq.StringArray `gorm:"type:text[]"`
	Detail    string
}
