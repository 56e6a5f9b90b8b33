package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDB replays canned results for QueryRow and records every
// statement, so the savepoint choreography around the receipt-number
// retry can be checked without a server.
type scriptedDB struct {
	stmts   []string
	rowErrs []error
	rowN    int64
}

type scriptedRow struct {
	err error
	n   int64
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.n
		}
	}
	return nil
}

func (s *scriptedDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.stmts = append(s.stmts, sql)
	return pgconn.CommandTag{}, nil
}

func (s *scriptedDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.stmts = append(s.stmts, sql)
	row := scriptedRow{n: s.rowN}
	if len(s.rowErrs) > 0 {
		row.err = s.rowErrs[0]
		s.rowErrs = s.rowErrs[1:]
	}
	return row
}

func (s *scriptedDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	s.stmts = append(s.stmts, sql)
	return nil, pgx.ErrNoRows
}

func (s *scriptedDB) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults {
	return nil
}

func TestAssignReceiptNumberRetriesUnderSavepoint(t *testing.T) {
	db := &scriptedDB{
		rowErrs: []error{&pgconn.PgError{Code: "23505"}},
		rowN:    7,
	}
	repo := (&TransactionRepo{}).With(db)

	n, err := repo.AssignReceiptNumber(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	// First attempt trips the unique index and must be rolled back to
	// its savepoint, or the surrounding transaction is left aborted.
	require.Len(t, db.stmts, 6)
	assert.Equal(t, `SAVEPOINT assign_receipt`, db.stmts[0])
	assert.Contains(t, db.stmts[1], "receipt_number")
	assert.Equal(t, `ROLLBACK TO SAVEPOINT assign_receipt`, db.stmts[2])
	assert.Equal(t, `SAVEPOINT assign_receipt`, db.stmts[3])
	assert.Contains(t, db.stmts[4], "receipt_number")
	assert.Equal(t, `RELEASE SAVEPOINT assign_receipt`, db.stmts[5])
}
