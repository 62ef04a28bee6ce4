package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/state"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// DefaultCooldown is the minimum time an item must sit at stage 8 before
// its key may be destroyed.
const DefaultCooldown = 24 * time.Hour

// commitTries bounds retries of the post-destruction commit. The key is
// already gone at that point, so the gate keeps trying to record it.
const commitTries = 5

// Gate enforces the reversibility ladder for every stage transition.
type Gate struct {
	backend   state.Backend
	ledger    Recorder
	keys      KeyManager
	approvals ApprovalService

	guards       []Guard
	blockingTags []string
	cooldown     time.Duration

	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
	tracer  *tracing.Tracer
	locks   *itemLocks

	commitBackoff func() backoff.BackOff
}

// Option configures a Gate.
type Option func(*Gate)

// WithCooldown sets the minimum dwell at stage 8 before key destruction.
func WithCooldown(d time.Duration) Option {
	return func(g *Gate) { g.cooldown = d }
}

// WithBlockingTags adds tags whose presence refuses key destruction.
func WithBlockingTags(tags ...string) Option {
	return func(g *Gate) { g.blockingTags = append(g.blockingTags, tags...) }
}

// WithGuard adds a destruction guard, typically the policy constraint
// registry.
func WithGuard(guard Guard) Option {
	return func(g *Gate) { g.guards = append(g.guards, guard) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l.With("component", "gate") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// New creates a gate over the given collaborators.
func New(backend state.Backend, rec Recorder, keys KeyManager, approvals ApprovalService, opts ...Option) *Gate {
	g := &Gate{
		backend:   backend,
		ledger:    rec,
		keys:      keys,
		approvals: approvals,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		logger:    slog.Default().With("component", "gate"),
		locks:     newItemLocks(),
		commitBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestTransition moves item forward to target. Targets below 9 only need
// to advance the stage. Target 9 runs the crypto-shred sequence and needs
// a valid approval token. A stage-9 request for an item that is already
// terminal returns the stored outcome with Replayed set.
//
// Refusals are returned as *forgetting.GateDeniedError and are recorded in
// the ledger.
func (g *Gate) RequestTransition(ctx context.Context, item forgetting.Item, target forgetting.Stage, token string) (TransitionResult, error) {
	ctx = logging.WithItemID(ctx, item.ID)
	ctx, span := g.tracer.Start(ctx, "gate.RequestTransition")
	defer span.End()
	tracing.SetTransitionAttributes(span, item.ID, "", target.String())

	res, err := g.requestTransition(ctx, item, target, token)
	tracing.SetStatus(span, err)
	return res, err
}

func (g *Gate) requestTransition(ctx context.Context, item forgetting.Item, target forgetting.Stage, token string) (TransitionResult, error) {
	if item.ID == "" {
		return TransitionResult{}, fmt.Errorf("item id is required")
	}

	unlock := g.locks.lock(item.ID)
	defer unlock()

	rec, err := g.load(ctx, item.ID)
	if err != nil {
		return TransitionResult{}, g.deny(ctx, item.ID, forgetting.StageOriginal, target, forgetting.DenyDependencyFailed, "", token,
			forgetting.NewDependencyUnavailableError("state", err))
	}
	rec = g.rollForward(ctx, rec)
	from := rec.Stage

	if !target.Valid() {
		return TransitionResult{}, g.deny(ctx, item.ID, from, target, forgetting.DenyInvalidStage, "", token, nil)
	}
	if from.Terminal() {
		if target.Terminal() {
			return TransitionResult{
				ResultID:    rec.ResultID,
				ItemID:      item.ID,
				From:        forgetting.StageKeyDependent,
				To:          forgetting.StageKeyDestroyed,
				At:          rec.CompletedAt,
				ApprovalRef: rec.ApprovalRef,
				Replayed:    true,
			}, nil
		}
		return TransitionResult{}, g.deny(ctx, item.ID, from, target, forgetting.DenyTerminal, "", token, nil)
	}
	if target <= from {
		return TransitionResult{}, g.deny(ctx, item.ID, from, target, forgetting.DenyNonMonotonic, "", token, nil)
	}

	if target.Terminal() {
		return g.shred(ctx, item, rec, token)
	}
	return g.commit(ctx, rec, target, ledger.KindTransition, "", token)
}

// Rollback moves an item to a lower stage. Only items below stage 8 can
// roll back, and reason is mandatory.
func (g *Gate) Rollback(ctx context.Context, itemID string, target forgetting.Stage, reason string) (TransitionResult, error) {
	ctx = logging.WithItemID(ctx, itemID)
	ctx, span := g.tracer.Start(ctx, "gate.Rollback")
	defer span.End()

	res, err := g.rollback(ctx, itemID, target, reason)
	tracing.SetStatus(span, err)
	return res, err
}

func (g *Gate) rollback(ctx context.Context, itemID string, target forgetting.Stage, reason string) (TransitionResult, error) {
	if itemID == "" {
		return TransitionResult{}, fmt.Errorf("item id is required")
	}

	unlock := g.locks.lock(itemID)
	defer unlock()

	rec, err := g.load(ctx, itemID)
	if err != nil {
		return TransitionResult{}, g.deny(ctx, itemID, forgetting.StageOriginal, target, forgetting.DenyDependencyFailed, "", "",
			forgetting.NewDependencyUnavailableError("state", err))
	}
	from := rec.Stage

	switch {
	case reason == "":
		return TransitionResult{}, g.deny(ctx, itemID, from, target, forgetting.DenyMissingReason, "", "", nil)
	case from.Terminal():
		return TransitionResult{}, g.deny(ctx, itemID, from, target, forgetting.DenyTerminal, "", "", nil)
	case from >= forgetting.StageKeyDependent:
		return TransitionResult{}, g.deny(ctx, itemID, from, target, forgetting.DenyRollbackForbidden, "", "", nil)
	case !target.Valid():
		return TransitionResult{}, g.deny(ctx, itemID, from, target, forgetting.DenyInvalidStage, "", "", nil)
	case target >= from:
		return TransitionResult{}, g.deny(ctx, itemID, from, target, forgetting.DenyNonMonotonic, "", "", nil)
	}

	return g.commit(ctx, rec, target, ledger.KindRollback, reason, "")
}

// State returns the item's reversibility state. Unknown items are
// Reversible at stage 0.
func (g *Gate) State(ctx context.Context, itemID string) (ItemState, error) {
	rec, err := g.view(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if rec.Stage.Terminal() {
		return Terminal{resultID: rec.ResultID, approvalRef: rec.ApprovalRef, completedAt: rec.CompletedAt}, nil
	}
	return Reversible{stage: rec.Stage, version: rec.Version, enteredAt: rec.EnteredAt}, nil
}

// Stage returns the item's current stage.
func (g *Gate) Stage(ctx context.Context, itemID string) (forgetting.Stage, error) {
	rec, err := g.view(ctx, itemID)
	if err != nil {
		return forgetting.StageOriginal, err
	}
	return rec.Stage, nil
}

// ApprovalFor returns a live approval token for itemID. Lookup failures
// report no approval.
func (g *Gate) ApprovalFor(ctx context.Context, itemID string) (string, bool) {
	if g.approvals == nil {
		return "", false
	}
	a, ok, err := g.approvals.Lookup(ctx, itemID)
	if err != nil {
		g.logger.WarnContext(ctx, "approval lookup failed", "item_id", itemID, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	return a.Token, true
}

// view loads an item and reports a key-dependent item whose key is gone as
// terminal, whether or not the terminal record has been committed yet.
func (g *Gate) view(ctx context.Context, itemID string) (state.ItemRecord, error) {
	rec, err := g.load(ctx, itemID)
	if err != nil {
		return rec, err
	}
	if next, ok := g.resolve(ctx, rec); ok {
		return next, nil
	}
	return rec, nil
}

func (g *Gate) load(ctx context.Context, itemID string) (state.ItemRecord, error) {
	rec, err := g.backend.LoadItem(ctx, itemID)
	if errors.Is(err, forgetting.ErrNotFound) {
		return state.ItemRecord{ItemID: itemID, Stage: forgetting.StageOriginal}, nil
	}
	return rec, err
}

// commit persists a reversible move and records it. A ledger failure
// restores the previous record so no unrecorded transition survives.
func (g *Gate) commit(ctx context.Context, rec state.ItemRecord, target forgetting.Stage, kind ledger.EventKind, reason, token string) (TransitionResult, error) {
	now := g.now()
	from := rec.Stage

	next := rec
	next.Stage = target
	next.EnteredAt = now
	next.UpdatedAt = now
	stored, err := g.backend.CompareAndSwapItem(ctx, next, rec.Version)
	if err != nil {
		return TransitionResult{}, g.casDenial(ctx, rec.ItemID, from, target, token, err)
	}

	entry, err := g.ledger.Log(ctx, ledger.Entry{
		Kind:        kind,
		ItemID:      rec.ItemID,
		Transition:  &ledger.Transition{From: from, To: target},
		ApprovalRef: token,
		Reason:      reason,
	})
	if err != nil {
		restore := rec
		restore.UpdatedAt = g.now()
		if _, cerr := g.backend.CompareAndSwapItem(ctx, restore, stored.Version); cerr != nil {
			g.logger.ErrorContext(ctx, "failed to restore item after ledger failure",
				"item_id", rec.ItemID, "stage", target.String(), "error", cerr)
		}
		return TransitionResult{}, g.deny(ctx, rec.ItemID, from, target, forgetting.DenyDependencyFailed, "", token,
			forgetting.NewDependencyUnavailableError("ledger", err))
	}

	g.recordTransition(from, target)
	g.logger.DebugContext(ctx, "transition committed",
		"item_id", rec.ItemID, "from", from.String(), "to", target.String(), "kind", string(kind))

	return TransitionResult{
		ResultID:    entry.ID,
		ItemID:      rec.ItemID,
		From:        from,
		To:          target,
		At:          now,
		ApprovalRef: token,
	}, nil
}

// shred runs the guarded 8 to 9 transition.
func (g *Gate) shred(ctx context.Context, item forgetting.Item, rec state.ItemRecord, token string) (TransitionResult, error) {
	from, to := rec.Stage, forgetting.StageKeyDestroyed

	if from != forgetting.StageKeyDependent {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyNotKeyDependent, "", token, nil)
	}
	if tag, blocked := g.blocked(item.Meta); blocked {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyBlockingTag, "", token,
			fmt.Errorf("blocked by %s", tag))
	}
	if token == "" {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyNoApproval, "", token, nil)
	}
	if g.approvals == nil {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyDependencyFailed, "", token,
			forgetting.NewDependencyUnavailableError("approvals", errors.New("no approval service configured")))
	}
	approval, err := g.approvals.Validate(ctx, item.ID, token)
	if errors.Is(err, ErrInvalidApproval) {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyInvalidApproval, "", token, err)
	}
	if err != nil {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyDependencyFailed, "", token,
			forgetting.NewDependencyUnavailableError("approvals", err))
	}
	if elapsed := g.now().Sub(rec.EnteredAt); elapsed < g.cooldown {
		return TransitionResult{}, g.deny(ctx, item.ID, from, to, forgetting.DenyCooldown, "", token,
			fmt.Errorf("%s remaining", (g.cooldown - elapsed).Round(time.Second)))
	}

	// Past this point caller cancellation no longer applies.
	sctx := context.WithoutCancel(ctx)
	start := g.now()

	var completed []ShredStep
	run := func(step ShredStep, fn func(context.Context, string) error) error {
		if err := fn(sctx, item.ID); err != nil {
			return g.abort(sctx, item.ID, token, step, completed, start, err)
		}
		completed = append(completed, step)
		return nil
	}

	if err := run(StepPreVerify, g.keys.PreVerify); err != nil {
		return TransitionResult{}, err
	}
	if err := run(StepDistributeKey, g.keys.DistributeKey); err != nil {
		return TransitionResult{}, err
	}
	if err := run(StepConfirmEncryption, g.keys.ConfirmEncrypted); err != nil {
		return TransitionResult{}, err
	}
	intent, err := g.ledger.Log(sctx, ledger.Entry{
		Kind:        ledger.KindShredCommitting,
		ItemID:      item.ID,
		Transition:  &ledger.Transition{From: from, To: to},
		ApprovalRef: approval.Token,
		Attributes:  map[string]string{"approver": approval.Approver},
	})
	if err != nil {
		return TransitionResult{}, g.abort(sctx, item.ID, token, StepCommitIntent, completed, start,
			forgetting.NewDependencyUnavailableError("ledger", err))
	}
	if err := run(StepDestroyKey, g.keys.DestroyKey); err != nil {
		return TransitionResult{}, err
	}
	if err := run(StepVerifyDestroyed, g.keys.VerifyDestroyed); err != nil {
		return TransitionResult{}, err
	}

	now := g.now()
	next := rec
	next.Stage = to
	next.EnteredAt = now
	next.UpdatedAt = now
	next.ResultID = intent.ID
	next.ApprovalRef = approval.Token
	next.CompletedAt = now

	if _, err := g.retry(sctx, func() (state.ItemRecord, error) {
		return g.backend.CompareAndSwapItem(sctx, next, rec.Version)
	}); err != nil {
		// The key is gone. The item reads as terminal from here on and the
		// record is rolled forward by the next request or Reconcile.
		g.logger.ErrorContext(sctx, "key destroyed but terminal state not committed",
			"item_id", item.ID, "result_id", next.ResultID, "error", err)
		g.recordShred("commit_failed", start)
		return TransitionResult{}, g.deny(sctx, item.ID, from, to, forgetting.DenyDependencyFailed, StepCommitTerminal, token,
			forgetting.NewDependencyUnavailableError("state", err))
	}

	result := TransitionResult{
		ResultID:    next.ResultID,
		ItemID:      item.ID,
		From:        from,
		To:          to,
		At:          now,
		ApprovalRef: approval.Token,
	}

	if _, err := g.retry(sctx, func() (state.ItemRecord, error) {
		_, err := g.ledger.Log(sctx, ledger.Entry{
			Kind:        ledger.KindTransition,
			ItemID:      item.ID,
			Transition:  &ledger.Transition{From: from, To: to},
			ApprovalRef: approval.Token,
			Attributes:  map[string]string{"result_id": next.ResultID},
		})
		return state.ItemRecord{}, err
	}); err != nil {
		// The shred_committing entry and the terminal record both exist, so
		// the outcome stays auditable.
		g.logger.ErrorContext(sctx, "terminal transition not recorded in ledger",
			"item_id", item.ID, "result_id", next.ResultID, "error", err)
	}

	g.recordTransition(from, to)
	g.recordShred("success", start)
	g.logger.InfoContext(sctx, "key destroyed",
		"item_id", item.ID, "result_id", next.ResultID, "approval_ref", approval.Token)
	return result, nil
}

// resolve returns the terminal record of a key-dependent item whose key
// has been verifiably destroyed. The shred_committing entry, when
// present, supplies the result id and approval.
func (g *Gate) resolve(ctx context.Context, rec state.ItemRecord) (state.ItemRecord, bool) {
	if rec.Stage != forgetting.StageKeyDependent {
		return rec, false
	}
	checker, ok := g.keys.(DestructionChecker)
	if !ok {
		return rec, false
	}
	destroyed, err := checker.Destroyed(ctx, rec.ItemID)
	if err != nil {
		g.logger.WarnContext(ctx, "key destruction check failed", "item_id", rec.ItemID, "error", err)
		return rec, false
	}
	if !destroyed {
		return rec, false
	}

	next := rec
	next.Stage = forgetting.StageKeyDestroyed
	next.CompletedAt = g.now()
	if intent := g.lastIntent(ctx, rec.ItemID); intent != nil {
		next.ResultID = intent.ID
		next.ApprovalRef = intent.ApprovalRef
		next.CompletedAt = intent.Time
	} else {
		g.logger.ErrorContext(ctx, "key destroyed without a recorded shred intent", "item_id", rec.ItemID)
		next.ResultID = uuid.NewString()
	}
	next.EnteredAt = next.CompletedAt
	next.UpdatedAt = g.now()
	return next, true
}

func (g *Gate) lastIntent(ctx context.Context, itemID string) *ledger.Entry {
	reader, ok := g.ledger.(HistoryReader)
	if !ok {
		return nil
	}
	entries, err := reader.History(ctx, itemID)
	if err != nil {
		g.logger.WarnContext(ctx, "failed to read shred intent", "item_id", itemID, "error", err)
		return nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == ledger.KindShredCommitting {
			return entries[i]
		}
	}
	return nil
}

// rollForward commits the terminal record of an interrupted shred. The
// caller holds the item lock. When the commit fails the returned record is
// still terminal so the item never reads as mutable.
func (g *Gate) rollForward(ctx context.Context, rec state.ItemRecord) state.ItemRecord {
	next, ok := g.resolve(ctx, rec)
	if !ok {
		return rec
	}
	stored, err := g.backend.CompareAndSwapItem(ctx, next, rec.Version)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to commit interrupted shred",
			"item_id", rec.ItemID, "result_id", next.ResultID, "error", err)
		return next
	}
	if _, err := g.ledger.Log(ctx, ledger.Entry{
		Kind:        ledger.KindTransition,
		ItemID:      rec.ItemID,
		Transition:  &ledger.Transition{From: forgetting.StageKeyDependent, To: forgetting.StageKeyDestroyed},
		ApprovalRef: next.ApprovalRef,
		Attributes:  map[string]string{"result_id": next.ResultID, "recovered": "true"},
	}); err != nil {
		g.logger.ErrorContext(ctx, "recovered terminal transition not recorded in ledger",
			"item_id", rec.ItemID, "result_id", next.ResultID, "error", err)
	}
	g.recordTransition(forgetting.StageKeyDependent, forgetting.StageKeyDestroyed)
	g.logger.InfoContext(ctx, "interrupted shred completed",
		"item_id", rec.ItemID, "result_id", next.ResultID)
	return stored
}

// Reconcile rolls every key-dependent item whose key is already destroyed
// forward to stage 9. It runs at startup to finish shreds interrupted
// between key destruction and the terminal commit, and returns how many
// items it committed.
func (g *Gate) Reconcile(ctx context.Context) (int, error) {
	if _, ok := g.keys.(DestructionChecker); !ok {
		return 0, nil
	}
	recs, err := g.backend.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list items: %w", err)
	}
	committed := 0
	for _, r := range recs {
		if r.Stage != forgetting.StageKeyDependent {
			continue
		}
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		unlock := g.locks.lock(r.ItemID)
		rec, err := g.load(ctx, r.ItemID)
		if err == nil && rec.Stage == forgetting.StageKeyDependent {
			if g.rollForward(ctx, rec).Version > rec.Version {
				committed++
			}
		}
		unlock()
	}
	return committed, nil
}

// abort restores the key after a failed step and returns the denial.
func (g *Gate) abort(ctx context.Context, itemID, token string, step ShredStep, completed []ShredStep, start time.Time, cause error) error {
	if err := g.keys.Abort(ctx, itemID, completed); err != nil {
		g.logger.ErrorContext(ctx, "shred abort failed",
			"item_id", itemID, "step", string(step), "error", err)
		cause = errors.Join(cause, fmt.Errorf("abort: %w", err))
	}
	g.recordShred("aborted", start)
	return g.deny(ctx, itemID, forgetting.StageKeyDependent, forgetting.StageKeyDestroyed,
		forgetting.DenyStepFailed, step, token, cause)
}

func (g *Gate) blocked(meta forgetting.Meta) (string, bool) {
	for _, tag := range g.blockingTags {
		if meta.HasTag(tag) {
			return tag, true
		}
	}
	now := g.now()
	for _, guard := range g.guards {
		if c, ok := guard.BlocksDestruction(meta, now); ok {
			return c, true
		}
	}
	return "", false
}

func (g *Gate) casDenial(ctx context.Context, itemID string, from, to forgetting.Stage, token string, err error) error {
	if errors.Is(err, forgetting.ErrVersionConflict) {
		return g.deny(ctx, itemID, from, to, forgetting.DenyConflict, "", token, err)
	}
	return g.deny(ctx, itemID, from, to, forgetting.DenyDependencyFailed, "", token,
		forgetting.NewDependencyUnavailableError("state", err))
}

// deny records and returns a gate denial.
func (g *Gate) deny(ctx context.Context, itemID string, from, to forgetting.Stage, reason forgetting.DenialReason, step ShredStep, token string, cause error) error {
	denied := forgetting.NewGateDeniedError(itemID, from, to, reason, cause)
	denied.Step = string(step)

	entry := ledger.Entry{
		Kind:        ledger.KindDenial,
		ItemID:      itemID,
		Transition:  &ledger.Transition{From: from, To: to},
		ApprovalRef: token,
		Reason:      string(reason),
	}
	if step != "" || cause != nil {
		entry.Attributes = map[string]string{}
		if step != "" {
			entry.Attributes["step"] = string(step)
		}
		if cause != nil {
			entry.Attributes["cause"] = cause.Error()
		}
	}
	if _, err := g.ledger.Log(context.WithoutCancel(ctx), entry); err != nil {
		g.logger.ErrorContext(ctx, "failed to record denial", "item_id", itemID, "error", err)
	}

	if g.metrics != nil {
		g.metrics.RecordDenial(string(reason))
	}
	g.logger.InfoContext(ctx, "transition denied",
		"item_id", itemID, "from", from.String(), "to", to.String(), "reason", string(reason))
	return denied
}

func (g *Gate) retry(ctx context.Context, op func() (state.ItemRecord, error)) (state.ItemRecord, error) {
	return backoff.Retry(ctx, func() (state.ItemRecord, error) {
		rec, err := op()
		if errors.Is(err, forgetting.ErrVersionConflict) {
			return rec, backoff.Permanent(err)
		}
		return rec, err
	}, backoff.WithBackOff(g.commitBackoff()), backoff.WithMaxTries(commitTries))
}

func (g *Gate) recordTransition(from, to forgetting.Stage) {
	if g.metrics != nil {
		g.metrics.RecordTransition(from.String(), to.String())
	}
}

func (g *Gate) recordShred(outcome string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordShred(outcome, g.now().Sub(start))
	}
}
