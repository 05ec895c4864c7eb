package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRowsNoQueries(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "cities",
		Columns:      []string{"name", "ring"},
		ConflictKeys: []string{"name"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_ConfigValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{{"Самара", 1}}

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "cities",
		ConflictKeys: []string{"name"},
	}, rows)
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "cities",
		Columns: []string{"name", "ring"},
	}, rows)
	assert.Error(t, err)
}

func TestBulkUpsert_CopiesAndFolds(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"Самара", 1, 0},
		{"Тольятти", 1, 100},
	}

	mock.ExpectBegin()
	// The temp table must be built from the insert columns alone: a LIKE
	// clone inherits the target's NOT NULL identity column, which the COPY
	// below never fills.
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_cities" ON COMMIT DROP AS SELECT "name", "ring", "distance_km" FROM "cities" WITH NO DATA`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_cities"}, []string{"name", "ring", "distance_km"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "cities" .* ON CONFLICT \("name"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "cities",
		Columns:      []string{"name", "ring", "distance_km"},
		ConflictKeys: []string{"name"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
