package writeback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/kvstore"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newQueue(t *testing.T) (*MutationQueue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	q := NewMutationQueue(kvstore.NewMemoryKVStore(), DefaultConfig(), WithClock(clock.now))
	return q, clock
}

func fields(kv ...interface{}) *core.Fields {
	f := core.NewFields()
	for i := 0; i+1 < len(kv); i += 2 {
		f.Set(kv[i].(string), kv[i+1])
	}
	return f
}

func entryIDs(entries []*core.QueueEntry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestEnqueueAssignsIncreasingIDsInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	a, err := q.Enqueue(ctx, core.OperationCreate, "courses", "temp_1", fields("title", "A"))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c9", fields("title", "B"))
	require.NoError(t, err)
	c, err := q.Enqueue(ctx, core.OperationDelete, "lessons", "l1", fields("ignored", true))
	require.NoError(t, err)

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)
	assert.Equal(t, "temp_1", a.IdempotencyKey)
	assert.Nil(t, c.Payload)

	pending, err := q.PeekPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID, b.ID, c.ID}, entryIDs(pending))
}

func TestEnqueueValidates(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	_, err := q.Enqueue(ctx, core.OperationType("UPSERT"), "courses", "1", nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, err = q.Enqueue(ctx, core.OperationUpdate, "", "1", nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, err = q.Enqueue(ctx, core.OperationUpdate, "courses", "", nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestDuplicateCreateRejected(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	_, err := q.Enqueue(ctx, core.OperationCreate, "courses", "temp_1", fields("a", 1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, core.OperationCreate, "courses", "temp_1", fields("a", 2))
	assert.ErrorIs(t, err, core.ErrDuplicateCreate)

	// Other collections are unaffected.
	_, err = q.Enqueue(ctx, core.OperationCreate, "lessons", "temp_1", fields("a", 1))
	assert.NoError(t, err)
}

func TestDeleteCollapsesPendingUpdates(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	u1, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 1))
	require.NoError(t, err)
	other, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c2", fields("a", 1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 2))
	require.NoError(t, err)
	del, err := q.Enqueue(ctx, core.OperationDelete, "courses", "c1", nil)
	require.NoError(t, err)

	pending, err := q.PeekPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{other.ID, del.ID}, entryIDs(pending))

	_, err = q.Get(ctx, u1.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMarkFailedBacksOffThenFails(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)
	cause := errors.New("unavailable")

	e, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 1))
	require.NoError(t, err)

	got, err := q.MarkFailed(ctx, e.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, clock.t.Add(time.Second), got.NextAttemptAt)

	got, err = q.MarkFailed(ctx, e.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(5*time.Second), got.NextAttemptAt)

	got, err = q.MarkFailed(ctx, e.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "unavailable", got.LastError)

	pending, err := q.PeekPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	failed, err := q.PeekFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{e.ID}, entryIDs(failed))
}

func TestBackoffClampsToLastStep(t *testing.T) {
	q, _ := newQueue(t)
	assert.Equal(t, time.Second, q.Backoff(0))
	assert.Equal(t, time.Second, q.Backoff(1))
	assert.Equal(t, 15*time.Second, q.Backoff(3))
	assert.Equal(t, 15*time.Second, q.Backoff(10))
}

func TestPermanentFailureRequeueAndClear(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	e1, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 1))
	require.NoError(t, err)
	e2, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "c2", fields("a", 1))
	require.NoError(t, err)

	got, err := q.MarkPermanentFailure(ctx, e1.ID, errors.New("rejected"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)

	pending, failed, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, failed)

	got, err = q.Requeue(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)

	_, err = q.MarkPermanentFailure(ctx, e2.ID, errors.New("rejected"))
	require.NoError(t, err)
	n, err := q.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, q.MarkSucceeded(ctx, e1.ID))
	require.NoError(t, q.MarkSucceeded(ctx, e1.ID))
	all, err := q.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = q.Requeue(ctx, 999)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRetargetAndCancel(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	create, err := q.Enqueue(ctx, core.OperationCreate, "courses", "temp_1", fields("title", "A"))
	require.NoError(t, err)
	upd, err := q.Enqueue(ctx, core.OperationUpdate, "courses", "temp_1", fields("title", "B"))
	require.NoError(t, err)

	n, err := q.Retarget(ctx, "courses", "temp_1", "srv_42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, upd.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv_42", got.TargetID)
	got, err = q.Get(ctx, create.ID)
	require.NoError(t, err)
	assert.Equal(t, "temp_1", got.TargetID)

	ok, err := q.Unresolved(ctx, "courses", "srv_42")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = q.CancelTarget(ctx, "courses", "temp_1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ok, err = q.Unresolved(ctx, "courses", "temp_1")
	require.NoError(t, err)
	assert.False(t, ok)

	targets, err := q.UnresolvedTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"courses/srv_42": {}}, targets)
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryKVStore()

	q1 := NewMutationQueue(kv, DefaultConfig())
	_, err := q1.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 1))
	require.NoError(t, err)
	_, err = q1.Clear(ctx)
	require.NoError(t, err)
	require.NoError(t, q1.Close())

	_, err = q1.PeekPending(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)

	q2 := NewMutationQueue(kv, DefaultConfig())
	e, err := q2.Enqueue(ctx, core.OperationUpdate, "courses", "c1", fields("a", 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.ID)
}
