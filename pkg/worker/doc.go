// Package worker provides the asynchronous dispatch side of weft: a Worker
// pulls run-workflow and cancel tasks from a queue and executes them against
// an Engine.
//
// Callers that want fire-and-forget semantics (HTTP handlers, schedulers,
// event subscribers) enqueue a task and keep the returned transaction id;
// the transaction can then be observed via Engine.GetTransaction or resumed
// later. Because a task's transaction id is stable across worker retries, a
// retried task resumes the transaction from its last durable step instead of
// starting over.
package worker
