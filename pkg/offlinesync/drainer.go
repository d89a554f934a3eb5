package offlinesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/offlinesync/internal/codec"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
	"github.com/rzpsarthak13/offlinesync/internal/writeback"
)

// minFollowUp is the shortest delay before a follow-up drain.
const minFollowUp = 10 * time.Millisecond

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of remote writes per second.
	// Example: DrainRate=50 means one write every 20ms. Zero is unlimited.
	DrainRate int `yaml:"drain_rate" json:"drain_rate"`
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{DrainRate: 50}
}

// Drainer replays the mutation queue against the remote. At most one pass
// runs at a time; kicks that arrive during a pass coalesce into one more
// pass after it.
type Drainer struct {
	f       *Facade
	config  DrainerConfig
	limiter *rate.Limiter
	log     zerolog.Logger

	// ctx bounds background passes and is cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	running     bool
	rerun       bool
	rerunForced bool
	stopped     bool
	timer       *time.Timer
	timerAt     time.Time
	timerGen    uint64
	wg          sync.WaitGroup
}

func newDrainer(f *Facade, config DrainerConfig) *Drainer {
	limit := rate.Inf
	if config.DrainRate > 0 {
		limit = rate.Limit(config.DrainRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Drainer{
		f:       f,
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		log:     logging.Component("drainer"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Kick starts a background pass, or asks the running one to go again.
// A forced pass ignores backoff.
func (d *Drainer) Kick(trigger string, forced bool) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.rerun = true
		d.rerunForced = d.rerunForced || forced
		d.mu.Unlock()
		return
	}
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.loop(trigger, forced)
}

func (d *Drainer) loop(trigger string, forced bool) {
	defer d.wg.Done()
	for {
		if d.f.IsOnline() {
			if _, err := d.pass(d.ctx, trigger, forced); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error().Err(err).Str("trigger", trigger).Msg("Drain pass failed")
			}
		}
		if !d.next(&trigger, &forced) {
			return
		}
	}
}

// next consumes a pending rerun request, or marks the drainer idle.
func (d *Drainer) next(trigger *string, forced *bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rerun && !d.stopped {
		*forced = d.rerunForced
		*trigger = "rerun"
		d.rerun = false
		d.rerunForced = false
		return true
	}
	d.running = false
	return false
}

// Drain runs one forced pass synchronously.
func (d *Drainer) Drain(ctx context.Context, trigger string) (DrainReport, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return DrainReport{}, ErrClosed
	}
	if d.running {
		d.mu.Unlock()
		return DrainReport{}, ErrDrainInProgress
	}
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	report, err := d.pass(ctx, trigger, true)

	// A kick that arrived during the pass hands the wait group slot to loop.
	forced := false
	if d.next(&trigger, &forced) {
		go d.loop(trigger, forced)
	} else {
		d.wg.Done()
	}
	return report, err
}

// ScheduleAfter arranges a non-forced pass after delay. An earlier pending
// schedule wins.
func (d *Drainer) ScheduleAfter(delay time.Duration) {
	if delay < minFollowUp {
		delay = minFollowUp
	}
	at := time.Now().Add(delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil && !d.timerAt.IsZero() && !d.timerAt.After(at) {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerGen++
	gen := d.timerGen
	d.timerAt = at
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

// fire runs a scheduled pass. A timer replaced after it began firing leaves
// the newer deadline in place.
func (d *Drainer) fire(gen uint64) {
	d.mu.Lock()
	if gen == d.timerGen {
		d.timerAt = time.Time{}
	}
	d.mu.Unlock()
	d.Kick("scheduled", false)
}

// Stop cancels background passes and waits for a running one to return.
func (d *Drainer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
}

// pass walks the Pending entries once in queue order.
func (d *Drainer) pass(ctx context.Context, trigger string, forced bool) (DrainReport, error) {
	f := d.f
	start := time.Now()
	report := DrainReport{StartedAt: f.now(), Forced: forced}
	metrics.DrainRuns.WithLabelValues(trigger).Inc()

	pending, err := f.queue.PeekPending(ctx)
	if err != nil {
		return report, err
	}
	all, err := f.queue.Entries(ctx)
	if err != nil {
		return report, err
	}

	// Non-Create entries wait while their target's Create is unresolved.
	creates := make(map[string]bool)
	for _, e := range all {
		if e.Kind == core.OperationCreate {
			creates[e.TargetKey()] = true
		}
	}
	// blocked targets have an earlier entry still Pending in this pass.
	blocked := make(map[string]bool)

	d.log.Debug().Str("trigger", trigger).Bool("forced", forced).Int("pending", len(pending)).Msg("Drain started")

	var passErr error
	for _, e := range pending {
		if ctx.Err() != nil {
			passErr = ctx.Err()
			break
		}
		if !f.IsOnline() {
			break
		}
		key := e.TargetKey()
		if blocked[key] || (e.Kind != core.OperationCreate && creates[key]) {
			blocked[key] = true
			report.Deferred++
			continue
		}
		if !forced && e.NextAttemptAt.After(f.now()) {
			blocked[key] = true
			report.Deferred++
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			passErr = err
			break
		}

		// The entry may have been cancelled, collapsed or retargeted since
		// the snapshot was taken.
		cur, err := f.queue.Get(ctx, e.ID)
		if errors.Is(err, writeback.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			passErr = err
			break
		}
		if cur.Status != core.StatusPending {
			continue
		}

		res, err := d.apply(ctx, cur)
		if err != nil {
			passErr = err
			break
		}
		switch res.result {
		case outcomeSucceeded:
			report.Succeeded++
			if cur.Kind == core.OperationCreate {
				delete(creates, key)
			}
		case outcomeRetrying:
			report.Retrying++
			blocked[key] = true
		case outcomeFailed:
			report.Failed++
			report.Errors = append(report.Errors, res.drainError(cur))
		}
	}

	remaining, _, err := f.queue.Counts(context.WithoutCancel(ctx))
	if err != nil && passErr == nil {
		passErr = err
	}
	report.Remaining = remaining
	report.FinishedAt = f.now()

	metrics.DrainDuration.Observe(time.Since(start).Seconds())
	metrics.DrainEntries.WithLabelValues("succeeded").Add(float64(report.Succeeded))
	metrics.DrainEntries.WithLabelValues("retrying").Add(float64(report.Retrying))
	metrics.DrainEntries.WithLabelValues("failed").Add(float64(report.Failed))
	metrics.DrainEntries.WithLabelValues("deferred").Add(float64(report.Deferred))

	d.log.Info().
		Str("trigger", trigger).
		Int("succeeded", report.Succeeded).
		Int("retrying", report.Retrying).
		Int("failed", report.Failed).
		Int("deferred", report.Deferred).
		Int("remaining", report.Remaining).
		Dur("duration", time.Since(start)).
		Msg("Drain finished")

	f.notify(context.WithoutCancel(ctx), report)
	if passErr == nil {
		d.scheduleFollowUp(ctx)
	}
	return report, passErr
}

// scheduleFollowUp arms a pass for the earliest moment a Pending entry can
// make progress. Only the first Pending entry of each target counts, and
// targets behind a Failed Create are skipped. An entry that was never tried
// is due at once.
func (d *Drainer) scheduleFollowUp(ctx context.Context) {
	f := d.f
	if !f.IsOnline() {
		return
	}
	entries, err := f.queue.Entries(ctx)
	if err != nil || len(entries) == 0 {
		return
	}
	stuck := make(map[string]bool)
	for _, e := range entries {
		if e.Kind == core.OperationCreate && e.Status == core.StatusFailed {
			stuck[e.TargetKey()] = true
		}
	}

	now := f.now()
	seen := make(map[string]bool)
	var earliest time.Time
	for _, e := range entries {
		if e.Status != core.StatusPending {
			continue
		}
		key := e.TargetKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		if stuck[key] {
			continue
		}
		at := e.NextAttemptAt
		if at.Before(now) {
			at = now
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	if earliest.IsZero() {
		return
	}
	d.ScheduleAfter(earliest.Sub(now))
}

type result int

const (
	outcomeSucceeded result = iota
	outcomeRetrying
	outcomeFailed
	// outcomeSkipped entries vanished from the queue while in flight.
	outcomeSkipped
)

type outcome struct {
	result    result
	cause     error
	permanent bool
}

func (o outcome) drainError(e *QueueEntry) DrainError {
	msg := "unknown error"
	if o.cause != nil {
		msg = o.cause.Error()
	}
	return DrainError{
		EntryID:    e.ID,
		Kind:       e.Kind,
		Collection: e.Collection,
		TargetID:   e.TargetID,
		Error:      msg,
		Permanent:  o.permanent,
	}
}

// apply sends one entry to the remote and records the result. A returned
// error aborts the pass; remote failures are reported through the outcome.
func (d *Drainer) apply(ctx context.Context, e *QueueEntry) (outcome, error) {
	f := d.f
	var (
		doc *Document
		err error
	)
	switch e.Kind {
	case core.OperationCreate:
		doc, err = f.remote.Create(ctx, e.Collection, e.IdempotencyKey, e.Payload)
		if err == nil {
			return outcome{result: outcomeSucceeded}, d.completeCreate(ctx, e, doc)
		}
	case core.OperationUpdate:
		doc, err = f.remote.Update(ctx, e.Collection, e.TargetID, e.Payload)
		if err == nil {
			return outcome{result: outcomeSucceeded}, d.completeUpdate(ctx, e, doc)
		}
	case core.OperationDelete:
		err = f.remote.Delete(ctx, e.Collection, e.TargetID)
		if err == nil || errors.Is(err, core.ErrRemoteNotFound) {
			return outcome{result: outcomeSucceeded}, d.completeDelete(ctx, e)
		}
	}

	if ctx.Err() != nil {
		return outcome{}, ctx.Err()
	}
	entryLog := d.log.With().Uint64("entry", e.ID).Str("kind", string(e.Kind)).Str("target", e.TargetKey()).Logger()

	if errors.Is(err, core.ErrRemoteTransient) {
		updated, merr := f.queue.MarkFailed(ctx, e.ID, err)
		if errors.Is(merr, writeback.ErrEntryNotFound) {
			return outcome{result: outcomeSkipped}, nil
		}
		if merr != nil {
			return outcome{}, merr
		}
		if updated.Status == core.StatusFailed {
			entryLog.Warn().Err(err).Int("retries", updated.RetryCount).Msg("Entry exhausted its retries")
			return outcome{result: outcomeFailed, cause: err}, nil
		}
		entryLog.Debug().Err(err).Time("next_attempt", updated.NextAttemptAt).Msg("Entry will be retried")
		return outcome{result: outcomeRetrying, cause: err}, nil
	}

	_, merr := f.queue.MarkPermanentFailure(ctx, e.ID, err)
	if errors.Is(merr, writeback.ErrEntryNotFound) {
		return outcome{result: outcomeSkipped}, nil
	}
	if merr != nil {
		return outcome{}, merr
	}
	entryLog.Warn().Err(err).Msg("Remote rejected entry")
	return outcome{result: outcomeFailed, cause: err, permanent: true}, nil
}

// completeCreate swaps the provisional record for the server record and
// points later entries at the server id.
func (d *Drainer) completeCreate(ctx context.Context, e *QueueEntry, doc *Document) error {
	f := d.f
	now := f.now()

	f.localMu.Lock()
	defer f.localMu.Unlock()

	if _, err := f.queue.Get(ctx, e.ID); errors.Is(err, writeback.ErrEntryNotFound) {
		// The provisional record was deleted while the create was in flight.
		if _, err := f.queue.Enqueue(ctx, core.OperationDelete, e.Collection, doc.ID, nil); err != nil {
			return err
		}
		d.log.Debug().Str("target", e.TargetKey()).Str("server_id", doc.ID).Msg("Created record was deleted locally, queued remote delete")
		return nil
	} else if err != nil {
		return err
	}

	dependents, err := f.queue.Retarget(ctx, e.Collection, e.TargetID, doc.ID)
	if err != nil {
		return err
	}
	prov, err := f.cached(ctx, e.Collection, e.TargetID)
	if err != nil {
		return err
	}

	rec := codec.RecordFromDocument(e.Collection, doc, now, f.policy.Retention(e.Collection))
	if prov != nil {
		if dependents > 0 {
			// Queued patches still have to land; keep the local view.
			rec.Fields = doc.Fields.Clone().Merge(prov.Fields)
		} else {
			rec.Fields = prov.Fields.Clone().Merge(doc.Fields)
		}
	}
	if err := f.store.Replace(ctx, e.TargetID, rec); err != nil {
		return err
	}
	if err := f.queue.MarkSucceeded(ctx, e.ID); err != nil {
		return err
	}
	d.log.Debug().Str("provisional_id", e.TargetID).Str("server_id", doc.ID).Int("retargeted", dependents).
		Msg("Provisional record confirmed")
	return nil
}

func (d *Drainer) completeUpdate(ctx context.Context, e *QueueEntry, doc *Document) error {
	f := d.f

	f.localMu.Lock()
	defer f.localMu.Unlock()
	if err := f.queue.MarkSucceeded(ctx, e.ID); err != nil {
		return err
	}
	dirty, err := f.queue.Unresolved(ctx, e.Collection, e.TargetID)
	if err != nil || dirty {
		return err
	}
	cur, err := f.cached(ctx, e.Collection, e.TargetID)
	if err != nil {
		return err
	}
	if cur != nil && cur.IsTombstoned {
		return nil
	}
	return f.store.Put(ctx, codec.RecordFromDocument(e.Collection, doc, f.now(), f.policy.Retention(e.Collection)))
}

func (d *Drainer) completeDelete(ctx context.Context, e *QueueEntry) error {
	f := d.f

	f.localMu.Lock()
	defer f.localMu.Unlock()
	if err := f.queue.MarkSucceeded(ctx, e.ID); err != nil {
		return err
	}
	return f.store.Delete(ctx, e.Collection, e.TargetID)
}
