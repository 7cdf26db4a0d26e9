package models

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Invitation is a two-party room commit: the inviter pre-names a roommate.
type Invitation struct {
	ID               string     `json:"id"`
	RoomID           string     `json:"roomId"`
	InviterSessionID string     `json:"inviterSessionId"`
	Inviter          Guest      `json:"inviter"`
	InviteeName      string     `json:"inviteeName"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	// Notified is false after a rejection until the inviter's client has shown the notice.
	Notified bool `json:"notified"`
}

// Expired reports whether a still-pending invitation has outlived ttl.
func (i *Invitation) Expired(now time.Time, ttl time.Duration) bool {
	return i.Status == StatusPending && !now.Before(i.CreatedAt.Add(ttl))
}

// Collectable reports whether the record may be garbage-collected.
func (i *Invitation) Collectable(now time.Time, ttl time.Duration) bool {
	if i.Expired(now, ttl) {
		return true
	}
	return i.ResolvedAt != nil && !now.Before(i.ResolvedAt.Add(ttl))
}

// JoinRequest asks an existing occupant to approve a roommate flagged by compatibility warnings.
type JoinRequest struct {
	ID                 string     `json:"id"`
	RequesterSessionID string     `json:"requesterSessionId"`
	RequesterName      string     `json:"requesterName"`
	RoomID             string     `json:"roomId"`
	TargetSessionID    string     `json:"targetSessionId"`
	Warnings           []string   `json:"warnings"`
	Guest              Guest      `json:"guest"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	ResolvedAt         *time.Time `json:"resolvedAt,omitempty"`
}

func (j *JoinRequest) Collectable(now time.Time, ttl time.Duration) bool {
	return !now.Before(j.CreatedAt.Add(ttl))
}
