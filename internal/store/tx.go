package store

import (
	"context"
	"database/sql"
	"sync"

	"crm-platform/pkg/utils"
)

// TxManager runs a unit of work atomically. Repositories called with the
// context handed to fn take part in the same transaction. Nested calls join
// the outer transaction.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type txState struct {
	tx    *sql.Tx
	undo  []func()
	after []func(ctx context.Context)
}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

func (s *txState) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
	s.after = nil
}

func (s *txState) committed(ctx context.Context) {
	for _, fn := range s.after {
		fn(ctx)
	}
	s.after = nil
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool { return stateFrom(ctx) != nil }

// AfterCommit schedules fn to run once the transaction carried by ctx commits.
// It is dropped if the transaction rolls back. Outside a transaction fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if st := stateFrom(ctx); st != nil {
		st.after = append(st.after, fn)
		return
	}
	fn(ctx)
}

// OnRollback registers a compensating action for in-memory stores. It is a
// no-op outside a transaction.
func OnRollback(ctx context.Context, fn func()) {
	if st := stateFrom(ctx); st != nil {
		st.undo = append(st.undo, fn)
	}
}

// Conn returns the transaction bound to ctx, falling back to db.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if st := stateFrom(ctx); st != nil && st.tx != nil {
		return st.tx
	}
	return db
}

// SQLTxManager runs units of work in SERIALIZABLE Postgres transactions.
type SQLTxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewSQLTxManager(db *sql.DB) *SQLTxManager {
	return &SQLTxManager{db: db, opts: &sql.TxOptions{Isolation: sql.LevelSerializable}}
}

func (m *SQLTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	st := &txState{}
	err := utils.WithTx(ctx, m.db, m.opts, func(ctx context.Context, tx *sql.Tx) error {
		st.tx = tx
		return fn(context.WithValue(ctx, txKey{}, st))
	})
	if err != nil {
		return MapError(err)
	}
	st.committed(ctx)
	return nil
}

// MemoryTxManager serialises units of work and replays registered undo
// actions when one fails. It backs the in-memory repositories used in tests
// and local runs.
type MemoryTxManager struct {
	mu sync.Mutex
}

func NewMemoryTxManager() *MemoryTxManager { return &MemoryTxManager{} }

func (m *MemoryTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}
	st := &txState{}

	m.mu.Lock()
	defer func() {
		if p := recover(); p != nil {
			st.rollback()
			m.mu.Unlock()
			panic(p)
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, st))
	if err != nil {
		st.rollback()
	}
	m.mu.Unlock()

	if err == nil {
		st.committed(ctx)
	}
	return err
}
