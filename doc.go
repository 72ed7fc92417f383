// Package weft provides an embeddable saga-style workflow orchestration
// engine for Go.
//
// Weft composes multi-step business transactions out of idempotent steps,
// each with a forward action and an optional compensating action. A
// declarative composer freezes steps, transforms, and nested workflows into
// a static dependency graph; the engine executes that graph in dependency
// order, running independent steps concurrently, retrying failures with
// backoff, and persisting execution state between steps so a transaction can
// be resumed across process restarts. When a step exhausts its retries, the
// engine rolls the transaction back, invoking the compensation of every
// completed step in reverse completion order.
//
// # Core Concepts
//
//  1. Engine: registers definitions, persists transaction state, drives
//     execution, exposes lookup/introspection.
//  2. WorkflowBuilder: records steps, transforms, and sub-workflows into a
//     frozen graph at definition time.
//  3. Step: a named, retryable, compensable unit of business logic.
//  4. Transform: a pure derivation connecting step outputs to later inputs.
//  5. Transaction: one execution of a definition, with per-step records,
//     status, output, and the accumulated error.
//  6. Worker / LocalRunner: asynchronous dispatch via a task queue.
//
// # Defining a workflow
//
//	transfer := weft.NewWorkflow("transfer").
//	    Step("debit", debit,
//	        weft.Compensate(refundDebit),
//	        weft.WithRetry(weft.Retry(3).WithConstantBackoff(50*time.Millisecond).Policy())).
//	    Step("credit", credit,
//	        weft.WithInput(weft.Output("debit")),
//	        weft.Compensate(reverseCredit)).
//	    MustBuild()
//
// Composition runs exactly once, at definition time, with no runtime values
// in scope: step functions are recorded, never called. Build validates the
// graph (unique names, known references, acyclicity) and freezes it.
//
// # Running
//
//	eng := weft.NewInMemoryEngine()
//	_ = eng.RegisterWorkflow(transfer)
//
//	tx, err := eng.Run(ctx, "transfer", weft.RunOptions{Input: in})
//
// On failure the returned error carries the step that triggered rollback,
// and tx.Steps records the fate of every step: DONE, FAILED, COMPENSATED,
// SKIPPED. Passing a TransactionID pins the id; re-running with the same id
// after a crash resumes from the last durably recorded step (with the
// SQLite-backed engine).
//
// # Durability
//
// Engines can be backed by an in-memory store (tests, development) or
// SQLite (embedded durability). The persistence contract is a small
// load/save interface; a single orchestrator owns a transaction at a time,
// enforced by store leases.
//
// For complete programs, see the /examples directory.
package weft
