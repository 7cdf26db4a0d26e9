// Package validate checks identifiers before they are used to build store keys.
// Every identifier ends up as a path segment (rooms/{id}/guests), so anything
// that could escape its segment is rejected up front.
package validate

import (
	"errors"
	"regexp"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/config"
	"roomalloc/backend/internal/models"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	roomIDPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

	structValidator = validator.New(validator.WithRequiredStructEnabled())
)

func RoomID(id string) error {
	if !roomIDPattern.MatchString(id) {
		return apperr.Validation("malformed room id %q", id)
	}
	return nil
}

func SessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return apperr.Validation("malformed session id")
	}
	return nil
}

// RecordID validates generated invitation and join-request ids.
func RecordID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return apperr.Validation("malformed record id %q", id)
	}
	return nil
}

func InviteeName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("invitee name is required")
	}
	if len(name) > config.MaxInviteeNameSize {
		return apperr.Validation("invitee name is longer than %d bytes", config.MaxInviteeNameSize)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return apperr.Validation("invitee name contains control characters")
	}
	return nil
}

// Profile validates a guest profile, including its session id.
func Profile(g models.Guest) error {
	if err := SessionID(g.SessionID); err != nil {
		return err
	}
	if err := structValidator.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("invalid profile field %s (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return apperr.Validation("invalid profile: %v", err)
	}
	return nil
}
