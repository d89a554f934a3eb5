package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

func TestRecordEncodingKeepsFieldOrderAndFlags(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &core.Record{
		Collection:    "courses",
		ID:            "temp_1",
		Fields:        core.NewFields().Set("title", "A1").Set("teacherId", "t9"),
		CachedAt:      now,
		UpdatedAt:     now,
		IsProvisional: true,
		Seq:           4,
	}

	data, err := EncodeRecord(in)
	require.NoError(t, err)
	out, err := DecodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "teacherId"}, out.Fields.Keys())
	assert.True(t, out.IsProvisional)
	assert.False(t, out.IsTombstoned)
	assert.Equal(t, uint64(4), out.Seq)
	assert.True(t, now.Equal(out.CachedAt))
	assert.Nil(t, out.ExpiresAt)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeRecord([]byte("{not json"))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeEntry([]byte(`{"id":1,"kind":"UPSERT"}`))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEntryEncoding(t *testing.T) {
	in := &core.QueueEntry{
		ID:             7,
		Kind:           core.OperationCreate,
		Collection:     "courses",
		TargetID:       "temp_1",
		Payload:        core.NewFields().Set("title", "A1"),
		Status:         core.StatusPending,
		IdempotencyKey: "temp_1",
	}
	data, err := EncodeEntry(in)
	require.NoError(t, err)
	out, err := DecodeEntry(data)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, "temp_1", out.IdempotencyKey)
	assert.Equal(t, map[string]interface{}{"title": "A1"}, out.Payload.Map())
}

func TestRecordFromDocumentStampsRetention(t *testing.T) {
	now := time.Now()
	doc := &core.Document{ID: "srv_1", Fields: core.NewFields().Set("a", 1)}

	r := RecordFromDocument("lessons", doc, now, time.Hour)
	require.NotNil(t, r.ExpiresAt)
	assert.True(t, r.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.False(t, r.IsProvisional)

	r = RecordFromDocument("lessons", doc, now, 0)
	assert.Nil(t, r.ExpiresAt)
}
