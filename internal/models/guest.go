package models

import (
	"strings"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

type SnoringLevel string

const (
	SnoringNone      SnoringLevel = "none"
	SnoringSometimes SnoringLevel = "sometimes"
	SnoringFrequent  SnoringLevel = "frequent"
)

// Guest is one participant occupying a slot in a room.
// SessionID is the opaque token bound to the participant for the whole event.
type Guest struct {
	SessionID   string       `json:"sessionId" validate:"required"`
	Name        string       `json:"name" validate:"required,max=64"`
	Affiliation string       `json:"affiliation,omitempty" validate:"max=128"`
	Gender      Gender       `json:"gender" validate:"required,oneof=M F"`
	Age         *int         `json:"age,omitempty" validate:"omitempty,min=1,max=120"`
	Snoring     SnoringLevel `json:"snoring,omitempty" validate:"omitempty,oneof=none sometimes frequent"`
	ArrivedAt   time.Time    `json:"arrivedAt"`
}

// SameName compares display names the way the invitee check does.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
