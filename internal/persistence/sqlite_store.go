package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/weftlabs/weft/pkg/api"
)

// SQLiteTransactionStore is a TransactionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteTransactionStore struct {
	db *sql.DB
}

var _ TransactionStore = (*SQLiteTransactionStore)(nil)

// NewSQLiteTransactionStore initializes the required schema in the given
// database and returns a new SQLiteTransactionStore.
func NewSQLiteTransactionStore(db *sql.DB) (*SQLiteTransactionStore, error) {
	s := &SQLiteTransactionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTransactionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			steps BLOB,
			error TEXT,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

func (s *SQLiteTransactionStore) encodeRow(tx *api.Transaction) (input, output, steps []byte, errStr string, err error) {
	if input, err = EncodeValue(tx.Input); err != nil {
		return nil, nil, nil, "", fmt.Errorf("encode input: %w", err)
	}
	if output, err = EncodeValue(tx.Output); err != nil {
		return nil, nil, nil, "", fmt.Errorf("encode output: %w", err)
	}
	if steps, err = EncodeValue(tx.Steps); err != nil {
		return nil, nil, nil, "", fmt.Errorf("encode steps: %w", err)
	}
	if tx.Err != nil {
		errStr = tx.Err.Error()
	}
	return input, output, steps, errStr, nil
}

func (s *SQLiteTransactionStore) SaveTransaction(tx *api.Transaction) error {
	input, output, steps, errStr, err := s.encodeRow(tx)
	if err != nil {
		return err
	}

	cancel := 0
	if tx.CancelRequested {
		cancel = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO transactions (id, workflow_name, status, input, output, steps, error, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.WorkflowName,
		string(tx.Status),
		input,
		output,
		steps,
		errStr,
		cancel,
		tx.CreatedAt.UnixNano(),
		tx.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteTransactionStore) UpdateTransaction(tx *api.Transaction) error {
	input, output, steps, errStr, err := s.encodeRow(tx)
	if err != nil {
		return err
	}

	cancel := 0
	if tx.CancelRequested {
		cancel = 1
	}

	res, err := s.db.Exec(`
		UPDATE transactions
		SET workflow_name = ?, status = ?, input = ?, output = ?, steps = ?, error = ?, cancel_requested = ?, updated_at = ?
		WHERE id = ?`,
		tx.WorkflowName,
		string(tx.Status),
		input,
		output,
		steps,
		errStr,
		cancel,
		time.Now().UnixNano(),
		tx.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *SQLiteTransactionStore) GetTransaction(id string) (*api.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_name, status, input, output, steps, error, cancel_requested, created_at, updated_at
		FROM transactions WHERE id = ?`, id)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *SQLiteTransactionStore) ListTransactions(filter TransactionFilter) ([]*api.Transaction, error) {
	query := `
		SELECT id, workflow_name, status, input, output, steps, error, cancel_requested, created_at, updated_at
		FROM transactions WHERE 1=1`
	var args []any

	if filter.WorkflowName != "" {
		query += " AND workflow_name = ?"
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*api.Transaction, error) {
	var (
		tx          api.Transaction
		status      string
		input       []byte
		output      []byte
		steps       []byte
		errStr      string
		cancel      int
		createdNano int64
		updatedNano int64
	)

	if err := row.Scan(&tx.ID, &tx.WorkflowName, &status, &input, &output, &steps, &errStr, &cancel, &createdNano, &updatedNano); err != nil {
		return nil, err
	}

	tx.Status = api.TransactionStatus(status)
	tx.CancelRequested = cancel != 0
	tx.CreatedAt = time.Unix(0, createdNano)
	tx.UpdatedAt = time.Unix(0, updatedNano)

	var err error
	if tx.Input, err = DecodeValue(input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if tx.Output, err = DecodeValue(output); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	decoded, err := DecodeValue(steps)
	if err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if decoded != nil {
		m, ok := decoded.(map[string]*api.StepExecution)
		if !ok {
			return nil, fmt.Errorf("decode steps: unexpected type %T", decoded)
		}
		tx.Steps = m
	} else {
		tx.Steps = make(map[string]*api.StepExecution)
	}

	if errStr != "" {
		tx.Err = errors.New(errStr)
	}

	return &tx, nil
}

func (s *SQLiteTransactionStore) TryAcquireLease(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error) {
	if owner == "" {
		return false, errors.New("lease owner is required")
	}

	now := time.Now().UnixNano()
	expires := time.Now().Add(ttl).UnixNano()

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ? AND (lease_owner = '' OR lease_owner = ? OR lease_expires_at <= ?)`,
		owner, expires, transactionID, owner, now,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteTransactionStore) RenewLease(ctx context.Context, transactionID, owner string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).UnixNano()

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET lease_expires_at = ?
		WHERE id = ? AND lease_owner = ?`,
		expires, transactionID, owner,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("lease not held by owner")
	}
	return nil
}

func (s *SQLiteTransactionStore) ReleaseLease(ctx context.Context, transactionID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET lease_owner = '', lease_expires_at = 0
		WHERE id = ? AND lease_owner = ?`,
		transactionID, owner,
	)
	return err
}
