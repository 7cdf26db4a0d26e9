package audit_test

import (
	"context"
	"reflect"
	"roomalloc/backend/internal/audit"
	"roomalloc/backend/internal/models"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEventGormTags(t *testing.T) {
	evType := reflect.TypeOf(models.AuditEvent{})

	warnings, found := evType.FieldByName("Warnings")
	require.True(t, found)
	assert.Equal(t, "type:text[]", warnings.Tag.Get("gorm"))
	assert.Equal(t, reflect.TypeOf(pq.StringArray{}), warnings.Type)

	action, found := evType.FieldByName("Action")
	require.True(t, found)
	assert.Contains(t, action.Tag.Get("gorm"), "index")

	_, found = evType.FieldByName("CreatedAt")
	assert.True(t, found, "gorm.Model is embedded")
}

func TestMemorySink(t *testing.T) {
	var sink audit.Sink = &audit.Memory{}
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, models.AuditEvent{Action: models.AuditRoomCommitted, RoomID: "R101"}))
	require.NoError(t, sink.Record(ctx, models.AuditEvent{Action: models.AuditGuestRemoved, RoomID: "R101"}))

	mem := sink.(*audit.Memory)
	assert.Equal(t, []models.AuditAction{models.AuditRoomCommitted, models.AuditGuestRemoved}, mem.Actions())

	events := mem.Events()
	events[0].RoomID = "changed"
	assert.Equal(t, "R101", mem.Events()[0].RoomID, "Events returns a copy")
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, audit.Nop{}.Record(context.Background(), models.AuditEvent{}))
}
