package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestWithTx_CommitAndRollback(t *testing.T) {
	pool := StartTestPostgres(t)
	ctx := context.Background()

	countGarages := func() int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM garages`).Scan(&n))
		return n
	}

	// fn error rolls the whole transaction back
	boom := errors.New("boom")
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO garages(id, name, timezone) VALUES('g-rollback','Rollback','UTC')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, countGarages())

	// nil fn error commits
	err = WithTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO garages(id, name, timezone) VALUES('g-commit','Commit','UTC')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countGarages())
}
