package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDuplicateKeyError(t *testing.T) {
	unique := &pgconn.PgError{Code: pgErrUniqueViolation}

	assert.True(t, isDuplicateKeyError(unique))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert: %w", unique)))
	assert.False(t, isDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isDuplicateKeyError(assert.AnError))
	assert.False(t, isDuplicateKeyError(nil))
}

func TestNewPool_TagsAndCapsConnections(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	assert.LessOrEqual(t, pool.Config().MaxConns, int32(maxJournalConns))

	var name string
	require.NoError(t, pool.QueryRow(context.Background(), "SHOW application_name").Scan(&name))
	assert.Equal(t, applicationName, name)
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
