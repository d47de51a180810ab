package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"groundwork/pkg/logx"
)

// ErrNoTx is returned by the package-level helpers when the context carries
// no active transaction.
var ErrNoTx = errors.New("dbx: no active transaction in context")

type txCtxKey struct{}

// Tx is a reentrant transactional boundary scoped to a context chain. The
// outermost handle owns the pooled connection; handles returned by nested
// Begin calls share it and their End is a pass-through. Exceptions to the
// usual commit flow always propagate: End never swallows the error it rolls
// back for.
type Tx struct {
	pool  *Pool
	conn  *sql.Conn
	tx    *sql.Tx
	log   logx.Logger
	owner bool
	done  bool

	// Prepared statements opened through this boundary, closed at End.
	stmts []*sql.Stmt
}

// FromContext returns the transaction bound to ctx, or nil.
func FromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txCtxKey{}).(*Tx)
	return tx
}

// Begin opens a transaction on a pooled connection, or — when ctx already
// carries an active one — returns a non-owning handle over it (the
// reentrancy rule: no new connection, no new commit boundary). The returned
// context carries the transaction and must not outlive End.
func Begin(ctx context.Context, p *Pool) (context.Context, *Tx, error) {
	if cur := FromContext(ctx); cur != nil {
		return ctx, &Tx{pool: cur.pool, conn: cur.conn, tx: cur.tx, log: cur.log}, nil
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return ctx, nil, err
	}
	sqltx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		p.Release(conn)
		return ctx, nil, err
	}
	t := &Tx{pool: p, conn: conn, tx: sqltx, log: p.log, owner: true}
	return context.WithValue(ctx, txCtxKey{}, t), t, nil
}

// BeginConn is Begin over a directly supplied connection. The owning handle
// commits and rolls back as usual but leaves the connection open for the
// caller.
func BeginConn(ctx context.Context, conn *sql.Conn, log logx.Logger) (context.Context, *Tx, error) {
	if cur := FromContext(ctx); cur != nil {
		return ctx, &Tx{pool: cur.pool, conn: cur.conn, tx: cur.tx, log: cur.log}, nil
	}
	sqltx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, err
	}
	t := &Tx{conn: conn, tx: sqltx, log: log, owner: true}
	return context.WithValue(ctx, txCtxKey{}, t), t, nil
}

// End closes the boundary: commit when err is nil, rollback (logged at error
// severity) otherwise. Only the owning handle acts; nested handles return err
// unchanged. The original error, when present, is always returned in
// preference to any commit/rollback error.
func (t *Tx) End(err error) error {
	if !t.owner || t.done {
		return err
	}
	t.done = true

	// Tracked statements first. They might have been legitimately closed by
	// the user already, so close errors are ignored.
	for _, st := range t.stmts {
		_ = st.Close()
	}
	t.stmts = nil

	if err == nil {
		if cerr := t.tx.Commit(); cerr != nil {
			t.log.Error("transaction commit failed", logx.Err(cerr))
			err = cerr
		}
	} else {
		t.log.Error("transaction rollback", logx.Err(err))
		if rerr := t.tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			t.log.Error("transaction rollback failed", logx.Err(rerr))
		}
	}

	if t.pool != nil {
		t.pool.Release(t.conn)
	}
	t.conn = nil
	t.tx = nil
	return err
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Prepare opens a statement tracked by this boundary; it is closed
// automatically at End unless the caller closes it first.
func (t *Tx) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	st, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	t.stmts = append(t.stmts, st)
	return st, nil
}

// With runs fn inside a transaction scope: Begin, fn, End. A panic in fn
// rolls the transaction back and then repanics.
func With(ctx context.Context, p *Pool, fn func(ctx context.Context, tx *Tx) error) (err error) {
	ctx, tx, err := Begin(ctx, p)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.End(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return tx.End(fn(ctx, tx))
}

// Exec runs a statement against the transaction bound to ctx.
func Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return nil, ErrNoTx
	}
	return tx.Exec(ctx, query, args...)
}

// Query runs a query against the transaction bound to ctx.
func Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return nil, ErrNoTx
	}
	return tx.Query(ctx, query, args...)
}
