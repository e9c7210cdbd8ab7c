package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("syntax error"), false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"context canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKey(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicateKey(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKey(errors.New("UNIQUE constraint failed: order_idempotency.idempotency_key")))
	assert.False(t, IsDuplicateKey(errors.New("boom")))
	assert.False(t, IsDuplicateKey(nil))
}

func TestRetrySucceedsImmediately(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestRetryNonTransientNoRetry(t *testing.T) {
	calls := 0
	permanent := errors.New("constraint violated")
	_, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", driver.ErrBadConn
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestRetryZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context) (int, error) {
		calls++
		return 0, driver.ErrBadConn
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
