package config

import "time"

const (
	// Locks
	ReservationTTL = 60 * time.Second
	PendingLockTTL = 24 * time.Hour

	// Workflows
	InvitationTTL      = 24 * time.Hour
	JoinRequestTTL     = 24 * time.Hour
	MaxInviteeNameSize = 64

	// Compatibility
	DefaultAgeGapTolerance = 10

	// Store
	DefaultCASMaxRetries = 32
)

// SnoringConflicts lists snoring pairs that produce a compatibility warning.
// The key is the louder occupant, the value the levels that will not tolerate it.
var SnoringConflicts = map[string][]string{
	"frequent":  {"none", "sometimes"},
	"sometimes": {"none"},
}
