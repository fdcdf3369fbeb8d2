package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMemoryTxManager_RollbackReplaysUndo(t *testing.T) {
	m := NewMemoryTxManager()
	state := []string{"a"}

	boom := errors.New("boom")
	err := m.RunInTx(context.Background(), func(ctx context.Context) error {
		state = append(state, "b")
		OnRollback(ctx, func() { state = state[:len(state)-1] })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(state) != 1 || state[0] != "a" {
		t.Fatalf("expected rollback to restore state, got %v", state)
	}
}

func TestMemoryTxManager_AfterCommitOnlyOnSuccess(t *testing.T) {
	m := NewMemoryTxManager()
	ran := 0

	_ = m.RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran++ })
		return errors.New("abort")
	})
	if ran != 0 {
		t.Fatalf("after-commit hook ran for aborted tx")
	}

	if err := m.RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran++ })
		return nil
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ran != 1 {
		t.Fatalf("expected hook to run once, ran %d", ran)
	}
}

func TestMemoryTxManager_NestedJoinsOuter(t *testing.T) {
	m := NewMemoryTxManager()
	undone := false

	err := m.RunInTx(context.Background(), func(ctx context.Context) error {
		if err := m.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func() { undone = true })
			return nil
		}); err != nil {
			return err
		}
		return errors.New("outer failed")
	})
	if err == nil || !undone {
		t.Fatalf("expected inner work to roll back with outer tx")
	}
}

func TestAfterCommit_RunsImmediatelyOutsideTx(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Fatalf("expected immediate run")
	}
}

func TestSQLTxManager_CommitsAndBindsConn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into t").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := NewSQLTxManager(db)
	committed := false
	err = m.RunInTx(context.Background(), func(ctx context.Context) error {
		if !InTx(ctx) {
			t.Fatalf("expected tx in context")
		}
		AfterCommit(ctx, func(context.Context) { committed = true })
		_, err := Conn(ctx, db).ExecContext(ctx, "insert into t values (1)")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !committed {
		t.Fatalf("expected after-commit hook")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLTxManager_SerializationFailureIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	m := NewSQLTxManager(db)
	err = m.RunInTx(context.Background(), func(ctx context.Context) error {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third try, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), 2, func(ctx context.Context) error {
		calls++
		return ErrConflict
	})
	if !errors.Is(err, ErrConflict) || calls != 2 {
		t.Fatalf("expected ErrConflict after 2 tries, got err=%v calls=%d", err, calls)
	}

	calls = 0
	other := errors.New("denied")
	err = RetryOnConflict(context.Background(), 5, func(ctx context.Context) error {
		calls++
		return other
	})
	if !errors.Is(err, other) || calls != 1 {
		t.Fatalf("non-conflict errors must not be retried, got err=%v calls=%d", err, calls)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- comment\nCREATE TABLE a (x int);\n\nCREATE INDEX b ON a (x)\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
}
