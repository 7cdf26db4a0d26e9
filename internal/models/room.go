package models

import "time"

// RoomSpec is one row of the static room topology.
type RoomSpec struct {
	ID       string `yaml:"id" json:"id"`
	Floor    int    `yaml:"floor" json:"floor"`
	Gender   Gender `yaml:"gender" json:"gender"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// Room is the read view of a room: topology plus live state.
// Expired reservation and pending records are presented as nil.
type Room struct {
	RoomSpec
	Guests      []Guest      `json:"guests"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Pending     *PendingLock `json:"pending,omitempty"`
}

func (r Room) Free() int {
	return r.Capacity - len(r.Guests)
}

// Reservation is the short single-holder hold taken during interactive selection.
type Reservation struct {
	ReservedBy string    `json:"reservedBy"`
	HolderName string    `json:"holderName,omitempty"`
	ReservedAt time.Time `json:"reservedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (r *Reservation) Active(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

func (r *Reservation) Remaining(now time.Time) time.Duration {
	if !r.Active(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// PendingLock holds a room's remaining slot while an invitation is outstanding.
type PendingLock struct {
	InvitationID     string    `json:"invitationId"`
	InviterSessionID string    `json:"inviterSessionId"`
	InviteeName      string    `json:"inviteeName"`
	AllowedSessionID string    `json:"allowedSessionId,omitempty"`
	AllowedAt        time.Time `json:"allowedAt,omitzero"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (p *PendingLock) Active(now time.Time) bool {
	return p != nil && now.Before(p.ExpiresAt)
}

// Admits reports whether sessionID may take a slot in the locked room: the
// inviter for their own place, the allow-listed invitee for the held one.
func (p *PendingLock) Admits(sessionID string, now time.Time) bool {
	if !p.Active(now) {
		return true
	}
	if sessionID == "" {
		return false
	}
	return p.AllowedSessionID == sessionID || p.InviterSessionID == sessionID
}

func (p *PendingLock) Remaining(now time.Time) time.Duration {
	if !p.Active(now) {
		return 0
	}
	return p.ExpiresAt.Sub(now)
}
