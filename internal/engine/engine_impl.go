package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/persistence"
	"github.com/weftlabs/weft/pkg/api"
)

// leaseTTL is how long a single orchestrator owns a transaction before the
// lease expires. Long enough to cover slow steps; expired leases can be
// taken over on restart.
const leaseTTL = 30 * time.Second

// engineImpl is a single-process, synchronous orchestrator implementation.
// Concurrency happens inside a transaction (parallel step batches), not
// across the engine API.
type engineImpl struct {
	registry *workflowRegistry
	store    persistence.TransactionStore
	observer api.Observer

	// owner identifies this engine instance for store leases.
	owner string

	// mu guards the live-run bookkeeping below.
	mu      sync.Mutex
	running map[string]bool
	cancels map[string]bool
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Store    persistence.TransactionStore
	Observer api.Observer
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		registry: newWorkflowRegistry(),
		store:    cfg.Store,
		observer: obs,
		owner:    uuid.NewString(),
		running:  make(map[string]bool),
		cancels:  make(map[string]bool),
	}
}

// NewInMemoryEngine returns an Engine backed by an in-memory transaction
// store. External users access this via weft.NewInMemoryEngine.
func NewInMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{Store: persistence.NewInMemoryStore()})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Store: persistence.NewInMemoryStore(), Observer: obs})
}

// NewSQLiteEngine returns an Engine that persists transactions in a SQLite
// database. Workflow definitions are kept in-memory; they contain function
// values and are re-registered at process start.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given
// Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteTransactionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Store: store, Observer: obs}), nil
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	return e.registry.Register(def)
}

func (e *engineImpl) Workflows() []api.WorkflowInfo {
	regs := e.registry.List()
	infos := make([]api.WorkflowInfo, 0, len(regs))
	for _, reg := range regs {
		infos = append(infos, workflowInfo(reg.def))
	}
	return infos
}

func (e *engineImpl) GetWorkflowInfo(name string) (api.WorkflowInfo, error) {
	reg, err := e.registry.Get(name)
	if err != nil {
		return api.WorkflowInfo{}, err
	}
	return workflowInfo(reg.def), nil
}

func workflowInfo(def api.WorkflowDefinition) api.WorkflowInfo {
	steps := make([]string, 0, len(def.Nodes))
	for i := range def.Nodes {
		steps = append(steps, def.Nodes[i].Name)
	}
	return api.WorkflowInfo{
		Name:         def.Name,
		Description:  def.Description,
		Steps:        steps,
		InputSchema:  def.InputSchema,
		OutputSchema: def.OutputSchema,
	}
}

func (e *engineImpl) GetTransaction(ctx context.Context, id string) (*api.Transaction, error) {
	tx, err := e.store.GetTransaction(id)
	if err != nil {
		if errors.Is(err, persistence.ErrTransactionNotFound) {
			return nil, fmt.Errorf("transaction not found: %s", id)
		}
		return nil, err
	}
	return tx, nil
}

func (e *engineImpl) ListTransactions(ctx context.Context, opts api.TransactionListOptions) ([]*api.Transaction, error) {
	filter := persistence.TransactionFilter{
		WorkflowName: opts.WorkflowName,
		Status:       opts.Status,
	}
	return e.store.ListTransactions(filter)
}

func (e *engineImpl) Run(ctx context.Context, name string, opts api.RunOptions) (*api.Transaction, error) {
	reg, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if opts.TransactionID != "" {
		existing, err := e.store.GetTransaction(opts.TransactionID)
		switch {
		case err == nil:
			if existing.WorkflowName != name {
				return nil, fmt.Errorf("transaction %s belongs to workflow %q, not %q",
					opts.TransactionID, existing.WorkflowName, name)
			}
			if existing.Status == api.TransactionSucceeded {
				// Idempotent re-run: the transaction already completed.
				return existing, nil
			}
			if existing.Status.Terminal() {
				return existing, fmt.Errorf("cannot resume transaction %s in status %s",
					existing.ID, existing.Status)
			}
			return e.drive(ctx, reg, existing, opts.Services)
		case errors.Is(err, persistence.ErrTransactionNotFound):
			// Fall through: fresh run under the caller-supplied id.
		default:
			return nil, err
		}
	}

	if reg.def.InputSchema != nil {
		if err := reg.def.InputSchema.Validate(opts.Input); err != nil {
			return nil, &api.ValidationError{Workflow: name, Scope: "input", Err: err}
		}
	}

	tx := newTransaction(reg.def, opts.TransactionID, opts.Input)
	if err := e.store.SaveTransaction(tx); err != nil {
		return nil, err
	}

	e.observer.OnTransactionStart(ctx, tx)

	return e.drive(ctx, reg, tx, opts.Services)
}

func (e *engineImpl) Resume(ctx context.Context, id string) (*api.Transaction, error) {
	tx, err := e.store.GetTransaction(id)
	if err != nil {
		if errors.Is(err, persistence.ErrTransactionNotFound) {
			return nil, fmt.Errorf("transaction not found: %s", id)
		}
		return nil, err
	}

	if tx.Status.Terminal() {
		return nil, fmt.Errorf("cannot resume transaction %s in status %s", id, tx.Status)
	}

	reg, err := e.registry.Get(tx.WorkflowName)
	if err != nil {
		return nil, fmt.Errorf("workflow definition not found for transaction %s (name=%s)", id, tx.WorkflowName)
	}

	return e.drive(ctx, reg, tx, nil)
}

// Cancel asks a transaction to stop at its next batch boundary. For a run
// driven by this engine instance the flag is delivered in-process; otherwise
// it is persisted so the next Resume rolls the transaction back.
func (e *engineImpl) Cancel(ctx context.Context, id string) error {
	tx, err := e.store.GetTransaction(id)
	if err != nil {
		if errors.Is(err, persistence.ErrTransactionNotFound) {
			return fmt.Errorf("transaction not found: %s", id)
		}
		return err
	}
	if tx.Status.Terminal() {
		return fmt.Errorf("cannot cancel transaction %s in status %s", id, tx.Status)
	}

	e.mu.Lock()
	live := e.running[id]
	e.cancels[id] = true
	e.mu.Unlock()

	if !live {
		tx.CancelRequested = true
		return e.store.UpdateTransaction(tx)
	}
	return nil
}

func newTransaction(def api.WorkflowDefinition, id string, input any) *api.Transaction {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()

	steps := make(map[string]*api.StepExecution, len(def.Nodes))
	for i := range def.Nodes {
		steps[def.Nodes[i].Name] = &api.StepExecution{
			Name:   def.Nodes[i].Name,
			Status: api.StepNotStarted,
		}
	}

	return &api.Transaction{
		ID:           id,
		WorkflowName: def.Name,
		Status:       api.TransactionRunning,
		Input:        input,
		Steps:        steps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// drive takes ownership of the transaction (store lease + live-run entry)
// and executes it to a terminal state.
func (e *engineImpl) drive(ctx context.Context, reg registeredWorkflow, tx *api.Transaction, services api.Services) (*api.Transaction, error) {
	acquired, err := e.store.TryAcquireLease(ctx, tx.ID, e.owner, leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, api.ErrTransactionLeased
	}
	defer func() { _ = e.store.ReleaseLease(context.WithoutCancel(ctx), tx.ID, e.owner) }()

	e.mu.Lock()
	e.running[tx.ID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, tx.ID)
		delete(e.cancels, tx.ID)
		e.mu.Unlock()
	}()

	err = e.execute(ctx, reg, tx, services)
	return tx, err
}

func (e *engineImpl) cancelRequested(tx *api.Transaction) bool {
	if tx.CancelRequested {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[tx.ID]
}

// runState serializes mutation and persistence of the transaction record
// while batch members run concurrently. Batch members touch disjoint step
// records, but persisting snapshots the whole record, so writes and persists
// go through one lock.
type runState struct {
	mu    sync.Mutex
	tx    *api.Transaction
	store persistence.TransactionStore
	seq   int
}

func newRunState(tx *api.Transaction, store persistence.TransactionStore) *runState {
	seq := 0
	for _, rec := range tx.Steps {
		if rec.CompletionSeq > seq {
			seq = rec.CompletionSeq
		}
	}
	return &runState{tx: tx, store: store, seq: seq}
}

// update applies fn under the lock and persists the transaction. Persistence
// errors on intermediate transitions are deliberately not fatal: losing a
// checkpoint costs a re-invocation on resume, which step idempotency covers.
func (s *runState) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.tx.UpdatedAt = time.Now()
	_ = s.store.UpdateTransaction(s.tx)
}

// execute walks the precomputed batches, invoking transforms inline and step
// actions concurrently, and drives rollback when forward progress fails.
func (e *engineImpl) execute(ctx context.Context, reg registeredWorkflow, tx *api.Transaction, services api.Services) error {
	st := newRunState(tx, e.store)

	// A transaction interrupted mid-rollback must finish compensating, not
	// replay forward; steps already compensated would otherwise be re-invoked
	// after their effects were undone.
	if rollbackInProgress(tx) {
		return e.rollback(ctx, reg, st, errors.New("rollback interrupted by process restart"))
	}

	for _, batch := range reg.plan.Batches {
		if err := ctx.Err(); err != nil {
			return e.rollback(ctx, reg, st, err)
		}
		if e.cancelRequested(tx) {
			return e.rollback(ctx, reg, st, api.ErrCanceled)
		}

		var (
			wg       sync.WaitGroup
			failMu   sync.Mutex
			failures []error
		)

		for _, name := range batch {
			node := reg.def.Node(name)
			rec := tx.Steps[name]

			switch rec.Status {
			case api.StepDone, api.StepSkipped:
				// Already recorded durably; resume skips it.
				continue
			}

			input := e.resolveRef(tx, node.Input)

			if node.Kind == api.NodeTransform {
				// Transform failures are collected like step failures so the
				// batch drains before rollback collects its targets; a sibling
				// goroutine may still be completing a compensable step.
				if err := e.runTransform(st, node); err != nil {
					failMu.Lock()
					failures = append(failures, err)
					failMu.Unlock()
				}
				continue
			}

			if node.Condition != nil && !node.Condition(input) {
				st.update(func() { rec.Status = api.StepSkipped })
				continue
			}

			wg.Add(1)
			go func(node *api.Node, rec *api.StepExecution, input any) {
				defer wg.Done()
				if err := e.runStep(ctx, reg, st, node, rec, input, services); err != nil {
					failMu.Lock()
					failures = append(failures, err)
					failMu.Unlock()
				}
			}(node, rec, input)
		}

		wg.Wait()

		if len(failures) > 0 {
			return e.rollback(ctx, reg, st, failures[0])
		}
	}

	output := e.resolveRef(tx, outputRef(reg.def))

	if reg.def.OutputSchema != nil {
		if err := reg.def.OutputSchema.Validate(output); err != nil {
			verr := &api.ValidationError{Workflow: reg.def.Name, Scope: "output", Err: err}
			st.update(func() {
				tx.Status = api.TransactionFailed
				tx.Err = verr
			})
			e.observer.OnTransactionFailed(ctx, tx, verr)
			return verr
		}
	}

	st.update(func() {
		tx.Status = api.TransactionSucceeded
		tx.Output = output
	})

	e.observer.OnTransactionCompleted(ctx, tx)
	return nil
}

// rollbackInProgress reports whether any step of the transaction is in a
// compensation state, meaning a previous rollback did not run to completion.
func rollbackInProgress(tx *api.Transaction) bool {
	for _, rec := range tx.Steps {
		switch rec.Status {
		case api.StepCompensating, api.StepCompensated, api.StepCompensateFailed:
			return true
		}
	}
	return false
}

func outputRef(def api.WorkflowDefinition) api.ValueRef {
	if !def.OutputFrom.IsInput() {
		return def.OutputFrom
	}
	return api.Output(def.Nodes[len(def.Nodes)-1].Name)
}

// resolveRef resolves a declared reference against the workflow input or a
// prior node's recorded output. Producing nodes always belong to earlier
// batches, so reads here never race with batch members.
func (e *engineImpl) resolveRef(tx *api.Transaction, ref api.ValueRef) any {
	if ref.IsInput() {
		return tx.Input
	}
	if rec := tx.Steps[ref.Node]; rec != nil {
		return rec.Output
	}
	return nil
}

func (e *engineImpl) resolveSources(tx *api.Transaction, sources map[string]api.ValueRef) map[string]any {
	values := make(map[string]any, len(sources))
	for name, ref := range sources {
		values[name] = e.resolveRef(tx, ref)
	}
	return values
}

// runTransform recomputes a pure derivation node. Transforms are not retried
// and not compensated; a failure is a programming error that fails the
// transaction.
func (e *engineImpl) runTransform(st *runState, node *api.Node) error {
	values := e.resolveSources(st.tx, node.Sources)

	out, err := node.Apply(values)
	rec := st.tx.Steps[node.Name]
	if err != nil {
		st.update(func() {
			rec.Status = api.StepFailed
			rec.LastError = err.Error()
		})
		return fmt.Errorf("transform %q: %w", node.Name, err)
	}

	st.update(func() {
		rec.Status = api.StepDone
		rec.Output = out
		rec.CompletionSeq = st.seqLocked()
	})
	return nil
}

// seqLocked increments the completion sequence; callers must hold st.mu
// (it is only called from inside st.update closures).
func (s *runState) seqLocked() int {
	s.seq++
	return s.seq
}

// runStep drives one forward action to done or failed, applying the step's
// retry policy and timeout. Nested workflow nodes run their child workflow
// as the action.
func (e *engineImpl) runStep(ctx context.Context, reg registeredWorkflow, st *runState, node *api.Node, rec *api.StepExecution, input any, services api.Services) error {
	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)

	if node.Retry != nil && node.Kind == api.NodeStep {
		if node.Retry.MaxAttempts > 0 {
			maxAttempts = node.Retry.MaxAttempts
		}
		backoff = node.Retry.InitialBackoff
		maxBackoff = node.Retry.MaxBackoff

		multiplier = node.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			st.update(func() {
				rec.Status = api.StepFailed
				rec.LastError = err.Error()
				rec.Attempts = attempt - 1
			})
			return &api.StepFailedError{Step: node.Name, Attempts: attempt - 1, Err: err}
		}

		st.update(func() {
			rec.Status = api.StepInvoking
			rec.Attempts = attempt
		})

		stepCtx := api.WithEngine(api.WithServices(ctx, services), e)
		cancel := context.CancelFunc(func() {})
		if node.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(stepCtx, node.Timeout)
		}

		e.observer.OnStepStart(stepCtx, st.tx, node.Name, attempt)
		startTime := time.Now()

		var (
			out     any
			childID string
			err     error
		)
		if node.Kind == api.NodeWorkflow {
			out, childID, err = e.runChild(stepCtx, reg, st.tx, node, input, services)
		} else {
			out, err = node.Invoke(stepCtx, input)
		}
		cancel()

		duration := time.Since(startTime)
		e.observer.OnStepCompleted(stepCtx, st.tx, node.Name, attempt, err, duration)

		if err == nil {
			snapshot := &api.CompensationInput{
				TransactionID:      st.tx.ID,
				StepName:           node.Name,
				Input:              input,
				Output:             out,
				ChildTransactionID: childID,
			}
			st.update(func() {
				rec.Status = api.StepDone
				rec.Output = out
				rec.CompensationInput = snapshot
				rec.LastError = ""
				rec.CompletionSeq = st.seqLocked()
			})
			return nil
		}

		lastErr = err

		if attempt == maxAttempts {
			st.update(func() {
				rec.Status = api.StepFailed
				rec.LastError = lastErr.Error()
			})
			return &api.StepFailedError{Step: node.Name, Attempts: maxAttempts, Err: lastErr}
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}

			select {
			case <-ctx.Done():
				st.update(func() {
					rec.Status = api.StepFailed
					rec.LastError = ctx.Err().Error()
				})
				return &api.StepFailedError{Step: node.Name, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}

			nextBackoff := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && nextBackoff > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = nextBackoff
			}
		}
	}

	// Unreachable: the loop always returns.
	return lastErr
}

// runChild executes a nested workflow as a single step of the parent. The
// child gets its own transaction record, persisted under a derived id so a
// parent resume finds it again.
func (e *engineImpl) runChild(ctx context.Context, reg registeredWorkflow, parent *api.Transaction, node *api.Node, input any, services api.Services) (out any, childID string, err error) {
	childID = parent.ID + "/" + node.Name
	childReg := registeredWorkflow{def: *node.Workflow, plan: reg.plan.Children[node.Name]}

	child, err := e.store.GetTransaction(childID)
	switch {
	case errors.Is(err, persistence.ErrTransactionNotFound):
		if childReg.def.InputSchema != nil {
			if verr := childReg.def.InputSchema.Validate(input); verr != nil {
				return nil, childID, &api.ValidationError{Workflow: childReg.def.Name, Scope: "input", Err: verr}
			}
		}
		child = newTransaction(childReg.def, childID, input)
		if err := e.store.SaveTransaction(child); err != nil {
			return nil, childID, err
		}
		e.observer.OnTransactionStart(ctx, child)
	case err != nil:
		return nil, childID, err
	default:
		if child.Status == api.TransactionSucceeded {
			return child.Output, childID, nil
		}
		if child.Status.Terminal() {
			return nil, childID, fmt.Errorf("nested workflow %q already %s", childReg.def.Name, child.Status)
		}
	}

	if err := e.execute(ctx, childReg, child, services); err != nil {
		return nil, childID, err
	}
	return child.Output, childID, nil
}
