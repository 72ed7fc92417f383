package weft

import (
	"database/sql"

	"github.com/weftlabs/weft/internal/taskqueue"
	workerpkg "github.com/weftlabs/weft/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Transactions and queued tasks are persisted in
// the provided *sql.DB, so in-flight work survives a process restart.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:weft.db?_journal=WAL")
//	bundle, err := weft.NewSQLiteBundle(db, worker.Config{MaxAttempts: 3})
//	// register workflows on bundle.Engine
//	// enqueue work via bundle.Worker
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	w := workerpkg.NewWithConfig(eng, q, cfg)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  q,
	}, nil
}
