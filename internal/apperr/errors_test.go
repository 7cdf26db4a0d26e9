package apperr_test

import (
	"context"
	"errors"
	"fmt"
	"roomalloc/backend/internal/apperr"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("commit room: %w", apperr.Conflict(apperr.ReasonCapacity, "room %s is full", "R101"))

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, apperr.Is(err, apperr.ReasonCapacity))
	assert.False(t, apperr.Is(err, apperr.ReasonGender))
	assert.Equal(t, apperr.Reason(""), apperr.ReasonOf(errors.New("plain")))
}

func TestRemainingSeconds_RoundsUp(t *testing.T) {
	e := apperr.LockConflict(apperr.ReasonReserved, "Kim", 1500*time.Millisecond, "reserved")
	assert.Equal(t, 2, e.RemainingSeconds())

	e.Remaining = 0
	assert.Equal(t, 0, e.RemainingSeconds())
}

func TestPartialFailure_Unwraps(t *testing.T) {
	cause := errors.New("redis down")
	err := apperr.PartialFailure(cause, "room committed, invitation not updated")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, apperr.KindPartialFailure, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "redis down")
}

func TestRollback_RunsInReverse(t *testing.T) {
	var order []string
	var rb apperr.Rollback
	rb.Add("first", func(context.Context) error { order = append(order, "first"); return nil })
	rb.Add("second", func(context.Context) error { order = append(order, "second"); return errors.New("ignored") })

	rb.Run(context.Background(), nil)

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRollback_Discard(t *testing.T) {
	called := false
	var rb apperr.Rollback
	rb.Add("noop", func(context.Context) error { called = true; return nil })
	rb.Discard()
	rb.Run(context.Background(), nil)

	assert.False(t, called)
}
