package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes the reconciler. The zero value is not usable; start from
// DefaultOptions and override per deployment.
type Options struct {
	// MaxAttempts is the number of provider attempts per pass before the
	// record transitions to Error.
	MaxAttempts int

	// BaseDelay is the backoff base for the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff growth.
	MaxDelay time.Duration

	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration

	// PassTimeout bounds a whole reconciliation pass, backoff waits included.
	PassTimeout time.Duration

	// MaxParallel bounds the worker pool used by ReconcileAll.
	MaxParallel int
}

// DefaultOptions returns the default reconciler tuning.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		CallTimeout: 30 * time.Second,
		PassTimeout: 5 * time.Minute,
		MaxParallel: 10,
	}
}

// Engine is the reconciliation core. It converges each submitted resource
// toward its desired state through the configured provider adapter, persisting
// progress in the state store. Passes for different resources may run in
// parallel; passes for one resource are serialized by the lock table.
type Engine struct {
	store    StateStore
	adapter  Adapter
	sink     AlertSink
	gates    []AdmissionGate
	observer PassObserver
	opts     Options
	locks    *lockTable
	logger   zerolog.Logger
}

// EngineOption customizes an Engine at construction time.
type EngineOption func(*Engine)

// WithAlertSink attaches the alerting sink for drift and terminal errors.
func WithAlertSink(sink AlertSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithAdmissionGates attaches gates evaluated during Submit.
func WithAdmissionGates(gates ...AdmissionGate) EngineOption {
	return func(e *Engine) { e.gates = append(e.gates, gates...) }
}

// WithPassObserver attaches the pass lifecycle observer.
func WithPassObserver(observer PassObserver) EngineOption {
	return func(e *Engine) { e.observer = observer }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With().Str("component", "engine").Logger() }
}

// New creates a reconciliation engine over the given store and adapter.
func New(store StateStore, adapter Adapter, opts Options, engineOpts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, NewPermanentError("state store is required", nil).WithCode(ErrCodeValidation)
	}
	if adapter == nil {
		return nil, NewPermanentError("provider adapter is required", nil).WithCode(ErrCodeValidation)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions().MaxDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = DefaultOptions().PassTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultOptions().MaxParallel
	}

	e := &Engine{
		store:   store,
		adapter: adapter,
		opts:    opts,
		locks:   newLockTable(),
		logger:  zerolog.Nop(),
	}
	for _, o := range engineOpts {
		o(e)
	}
	return e, nil
}

// Submit accepts a validated desired spec. It runs the admission gates, then
// creates or supersedes the record for the resource identity: generation is
// bumped, the phase resets to Pending, and any previous terminal error is
// cleared. The returned receipt names the identity and new generation.
func (e *Engine) Submit(ctx context.Context, desired *Desired) (*Receipt, error) {
	if desired == nil {
		return nil, NewPermanentError("desired spec is nil", nil).WithCode(ErrCodeValidation)
	}
	if err := desired.ID.Validate(); err != nil {
		return nil, NewPermanentError("invalid resource identity", err).WithCode(ErrCodeValidation)
	}

	for _, gate := range e.gates {
		if err := gate.Admit(ctx, desired); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	record, err := e.store.Get(ctx, desired.ID)
	switch {
	case err == nil:
		record.Desired = desired.Spec
		record.Labels = desired.Labels
		record.Generation++
		record.Phase = PhasePending
		record.Attempts = 0
		record.LastOp = nil
		record.LastError = nil
		record.Drift = DriftStatusUnknown
		record.UpdatedAt = now
	case IsNotFound(err):
		record = &Record{
			ID:         desired.ID,
			Desired:    desired.Spec,
			Labels:     desired.Labels,
			Generation: 1,
			Phase:      PhasePending,
			Drift:      DriftStatusUnknown,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	default:
		return nil, err
	}

	if err := e.store.Put(ctx, record); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("resource_id", desired.ID.String()).
		Int64("generation", record.Generation).
		Msg("Intent accepted")

	return &Receipt{ID: desired.ID, Generation: record.Generation, SubmittedAt: now}, nil
}

// Reconcile runs one reconciliation pass for the resource. It acquires the
// per-resource lock for the whole pass; a concurrent request for the same
// resource fails with an AlreadyInProgress error. The pass retries transient
// provider failures with capped exponential backoff up to MaxAttempts, then
// transitions the record to Error and alerts the sink.
func (e *Engine) Reconcile(ctx context.Context, id ResourceID) (*PassResult, error) {
	if err := e.locks.tryAcquire(id); err != nil {
		return nil, err
	}
	defer e.locks.release(id)

	if e.observer != nil {
		e.observer.PassStarted(id)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.PassTimeout)
	defer cancel()

	result := e.runPass(ctx, id)

	if e.observer != nil {
		e.observer.PassCompleted(result)
	}
	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// runPass executes steps 1-8 under the already-held resource lock.
func (e *Engine) runPass(ctx context.Context, id ResourceID) *PassResult {
	started := time.Now()
	result := &PassResult{ResourceID: id, StartedAt: started}

	finish := func(phase Phase, err *EngineError) *PassResult {
		result.Phase = phase
		result.Err = err
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(started)
		return result
	}

	record, err := e.store.Get(ctx, id)
	if err != nil {
		return finish("", Classify(err).WithResource(id.String()).WithOperation("get"))
	}

	client, err := e.adapter.Client(id.Kind)
	if err != nil {
		return finish(record.Phase, Classify(err).WithResource(id.String()))
	}

	log := e.logger.With().Str("resource_id", id.String()).Logger()

	// Idempotence fast path: a Settled record whose stored snapshot already
	// matches desired needs no provider calls and no record write.
	if record.Phase == PhaseSettled && record.Observed != nil {
		ops, diffErr := client.Diff(record.DesiredSpec(), record.Observed)
		if diffErr == nil && len(ops) == 0 {
			log.Debug().Msg("Resource already settled, nothing to do")
			return finish(PhaseSettled, nil)
		}
	}

	for attempt := 0; attempt < e.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1
		record.Attempts = attempt + 1

		passErr := e.attemptOnce(ctx, client, record, result)
		if passErr == nil {
			now := time.Now()
			record.Phase = PhaseSettled
			record.Drift = DriftStatusInSync
			record.LastAppliedAt = &now
			record.LastOp = nil
			record.LastError = nil
			record.UpdatedAt = now
			if err := e.store.Put(ctx, record); err != nil {
				return finish(record.Phase, Classify(err).WithResource(id.String()).WithOperation("put"))
			}
			log.Info().Int("attempts", result.Attempts).Msg("Resource settled")
			return finish(PhaseSettled, nil)
		}

		record.LastError = passErr
		record.UpdatedAt = time.Now()

		if !IsRetryable(passErr) || attempt == e.opts.MaxAttempts-1 {
			if IsRetryable(passErr) {
				passErr = passErr.WithCode(ErrCodeRetryExhausted)
			}
			record.Phase = PhaseError
			record.LastError = passErr
			if err := e.store.Put(ctx, record); err != nil {
				log.Error().Err(err).Msg("Failed to persist terminal record")
			}
			e.emitError(record, passErr)
			log.Error().Err(passErr).Int("attempts", result.Attempts).Msg("Reconciliation failed terminally")
			return finish(PhaseError, passErr)
		}

		record.Phase = PhaseFailed
		if err := e.store.Put(ctx, record); err != nil {
			return finish(record.Phase, Classify(err).WithResource(id.String()).WithOperation("put"))
		}

		backoff := e.calculateBackoff(attempt, passErr)
		log.Warn().
			Err(passErr).
			Dur("backoff", backoff).
			Int("attempt", attempt+1).
			Int("max_attempts", e.opts.MaxAttempts).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			timeoutErr := Classify(ctx.Err()).WithResource(id.String())
			record.Phase = PhaseFailed
			record.LastError = timeoutErr
			record.UpdatedAt = time.Now()
			// Best effort; the pass deadline has already fired.
			_ = e.store.Put(context.WithoutCancel(ctx), record)
			return finish(PhaseFailed, timeoutErr)
		}
	}

	// Unreachable: the loop exits through settle or terminal error.
	return finish(record.Phase, record.LastError)
}

// attemptOnce performs one read-diff-apply cycle. A nil return means the
// record's observed state matches desired and the resource can settle.
func (e *Engine) attemptOnce(ctx context.Context, client ResourceClient, record *Record, result *PassResult) *EngineError {
	id := record.ID

	observed, err := e.readObserved(ctx, client, record)
	if err != nil {
		return err
	}
	record.Observed = observed

	ops, diffErr := client.Diff(record.DesiredSpec(), observed)
	if diffErr != nil {
		return Classify(diffErr).WithResource(id.String()).WithOperation("diff").WithCode(ErrCodeDiffFailed)
	}
	result.Planned = ops

	if len(ops) == 0 {
		return nil
	}

	record.Phase = PhaseApplying
	record.UpdatedAt = time.Now()
	if putErr := e.store.Put(ctx, record); putErr != nil {
		return Classify(putErr).WithResource(id.String()).WithOperation("put")
	}

	if applyErr := e.applyOps(ctx, client, record, ops); applyErr != nil {
		return applyErr
	}

	// Re-read so the persisted snapshot reflects the applied changes.
	observed, err = e.readObserved(ctx, client, record)
	if err != nil {
		return err
	}
	record.Observed = observed
	return nil
}

// readObserved refreshes the provider-reported state. Absence is not a
// failure: the caller receives a nil snapshot and diffs against it.
func (e *Engine) readObserved(ctx context.Context, client ResourceClient, record *Record) (*ObservedState, *EngineError) {
	if record.Observed == nil || record.Observed.ProviderID == "" {
		return nil, nil
	}

	observed, err := e.providerRead(ctx, client, record.Observed.ProviderID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, Classify(err).WithResource(record.ID.String()).WithOperation("read")
	}
	return observed, nil
}

// applyOps issues the corrective calls strictly in diff order. Cancellation is
// checked at every op boundary; already-issued calls are not rolled back.
// A replace op deletes and recreates the whole resource, which applies the
// full desired spec, so it consumes the remainder of the op list.
func (e *Engine) applyOps(ctx context.Context, client ResourceClient, record *Record, ops []ChangeOp) *EngineError {
	id := record.ID

	for i := range ops {
		op := ops[i]

		select {
		case <-ctx.Done():
			return Classify(ctx.Err()).WithResource(id.String())
		default:
		}

		record.LastOp = &op

		switch {
		case op.RequiresReplace:
			if record.Observed != nil && record.Observed.ProviderID != "" {
				if err := e.providerDelete(ctx, client, record.Observed.ProviderID); err != nil {
					return Classify(err).WithResource(id.String()).WithOperation("delete")
				}
				record.Observed = nil
			}
			providerID, err := e.providerCreate(ctx, client, record.DesiredSpec())
			if err != nil {
				return Classify(err).WithResource(id.String()).WithOperation("create")
			}
			record.Observed = &ObservedState{ProviderID: providerID, ObservedAt: time.Now()}
			return nil

		case record.Observed == nil || record.Observed.ProviderID == "":
			providerID, err := e.providerCreate(ctx, client, record.DesiredSpec())
			if err != nil {
				return Classify(err).WithResource(id.String()).WithOperation("create")
			}
			record.Observed = &ObservedState{ProviderID: providerID, ObservedAt: time.Now()}
			return nil

		default:
			observed, err := e.providerUpdate(ctx, client, record.Observed.ProviderID, record.DesiredSpec())
			if err != nil {
				return Classify(err).WithResource(id.String()).WithOperation("update")
			}
			record.Observed = observed
		}
	}
	return nil
}

// Plan computes a read-only preview of the ops a pass would apply right now.
// No lock is taken, no record is mutated, and no mutating provider calls are
// issued.
func (e *Engine) Plan(ctx context.Context, id ResourceID) (*Plan, error) {
	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	client, err := e.adapter.Client(id.Kind)
	if err != nil {
		return nil, Classify(err).WithResource(id.String())
	}

	observed, readErr := e.readObserved(ctx, client, record)
	if readErr != nil {
		return nil, readErr
	}

	ops, diffErr := client.Diff(record.DesiredSpec(), observed)
	if diffErr != nil {
		return nil, Classify(diffErr).WithResource(id.String()).WithOperation("diff").WithCode(ErrCodeDiffFailed)
	}

	return &Plan{ResourceID: id, Ops: ops, Observed: observed, CreatedAt: time.Now()}, nil
}

// PlanAll previews every tracked resource.
func (e *Engine) PlanAll(ctx context.Context) ([]*Plan, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	plans := make([]*Plan, 0, len(records))
	for _, record := range records {
		plan, err := e.Plan(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Remove handles an explicit deletion intent: the live resource is deleted
// through the adapter with the same retry classification as any other pass,
// then the record is removed from the store.
func (e *Engine) Remove(ctx context.Context, id ResourceID) error {
	if err := e.locks.tryAcquire(id); err != nil {
		return err
	}
	defer e.locks.release(id)

	ctx, cancel := context.WithTimeout(ctx, e.opts.PassTimeout)
	defer cancel()

	record, err := e.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	if record.Observed != nil && record.Observed.ProviderID != "" {
		client, err := e.adapter.Client(id.Kind)
		if err != nil {
			return Classify(err).WithResource(id.String())
		}

		for attempt := 0; ; attempt++ {
			delErr := e.providerDelete(ctx, client, record.Observed.ProviderID)
			if delErr == nil || IsNotFound(delErr) {
				break
			}
			classified := Classify(delErr).WithResource(id.String()).WithOperation("delete")
			if !IsRetryable(classified) || attempt >= e.opts.MaxAttempts-1 {
				record.LastError = classified
				record.Phase = PhaseError
				record.UpdatedAt = time.Now()
				if putErr := e.store.Put(ctx, record); putErr != nil {
					e.logger.Error().Err(putErr).Str("resource_id", id.String()).Msg("Failed to persist delete failure")
				}
				e.emitError(record, classified)
				return classified
			}
			select {
			case <-time.After(e.calculateBackoff(attempt, classified)):
			case <-ctx.Done():
				return Classify(ctx.Err()).WithResource(id.String())
			}
		}
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info().Str("resource_id", id.String()).Msg("Resource removed")
	return nil
}

// ReconcileAll reconciles every record that is not in a terminal Error state,
// using a bounded worker pool. Per-resource locks still apply: resources with
// a pass already in flight are skipped, not queued. Settled resources with
// unchanged intents produce empty diffs and issue no mutating calls, so the
// sweep is safe to run on a fixed interval.
func (e *Engine) ReconcileAll(ctx context.Context) ([]*PassResult, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]ResourceID, 0, len(records))
	for _, record := range records {
		if record.Phase == PhaseError {
			continue
		}
		pending = append(pending, record.ID)
	}

	workerCount := e.opts.MaxParallel
	if len(pending) < workerCount {
		workerCount = len(pending)
	}
	if workerCount == 0 {
		return nil, nil
	}

	workQueue := make(chan ResourceID, len(pending))
	for _, id := range pending {
		workQueue <- id
	}
	close(workQueue)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*PassResult
	)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for id := range workQueue {
				result, err := e.Reconcile(ctx, id)
				if err != nil && IsAlreadyInProgress(err) {
					continue
				}
				if result != nil {
					mu.Lock()
					results = append(results, result)
					mu.Unlock()
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	return results, nil
}

// Get returns a copy of the record for the given identity.
func (e *Engine) Get(ctx context.Context, id ResourceID) (*Record, error) {
	return e.store.Get(ctx, id)
}

// List returns a snapshot of all tracked records.
func (e *Engine) List(ctx context.Context) ([]*Record, error) {
	return e.store.List(ctx)
}

// InFlight reports whether a pass currently holds the lock for id.
func (e *Engine) InFlight(id ResourceID) bool {
	return e.locks.inFlight(id)
}

// Provider call wrappers: apply the per-call timeout and feed the observer.

func (e *Engine) providerCreate(ctx context.Context, client ResourceClient, desired *Desired) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	providerID, err := client.Create(callCtx, desired)
	e.observeCall("create", time.Since(start), err)
	return providerID, err
}

func (e *Engine) providerRead(ctx context.Context, client ResourceClient, providerID string) (*ObservedState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	observed, err := client.Read(callCtx, providerID)
	e.observeCall("read", time.Since(start), err)
	return observed, err
}

func (e *Engine) providerUpdate(ctx context.Context, client ResourceClient, providerID string, desired *Desired) (*ObservedState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	observed, err := client.Update(callCtx, providerID, desired)
	e.observeCall("update", time.Since(start), err)
	return observed, err
}

func (e *Engine) providerDelete(ctx context.Context, client ResourceClient, providerID string) error {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	err := client.Delete(callCtx, providerID)
	e.observeCall("delete", time.Since(start), err)
	return err
}

func (e *Engine) observeCall(operation string, duration time.Duration, err error) {
	if e.observer == nil {
		return
	}
	e.observer.ProviderCall(e.adapter.Metadata().Name, operation, duration, err)
}

// calculateBackoff computes the retry delay: base x 2^attempt, capped at
// MaxDelay, with +/-25% jitter. Throttled and conflict errors start from a
// larger base since immediate retries rarely help there.
func (e *Engine) calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := e.opts.BaseDelay
	if IsThrottled(err) {
		baseDelay = 4 * e.opts.BaseDelay
	} else if IsConflict(err) {
		baseDelay = 2 * e.opts.BaseDelay
	}

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > e.opts.MaxDelay || delay <= 0 {
		delay = e.opts.MaxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25)
	if jitter > 0 {
		delay = delay - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
	}

	return delay
}

func (e *Engine) emitError(record *Record, engineErr *EngineError) {
	if e.sink == nil {
		return
	}
	e.sink.EmitError(&ErrorEvent{
		ID:         uuid.New().String(),
		ResourceID: record.ID,
		Op:         record.LastOp,
		Err:        engineErr,
		OccurredAt: time.Now(),
	})
}
