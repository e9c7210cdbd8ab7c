package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("create order: %w", InsufficientStock("P2", 1, 0))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInsufficientStock, KindOf(err))

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "P2", e.ProductID)
	assert.Contains(t, e.Error(), "P2")
}

func TestCodeNarrowsMatch(t *testing.T) {
	notFound := NotFound("order_not_found", "order not found")
	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.ErrorIs(t, notFound, NotFound("order_not_found", ""))
	assert.NotErrorIs(t, notFound, NotFound("product_not_found", ""))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("deadlock")
	err := Transient(cause, 50*time.Millisecond)

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 50*time.Millisecond, err.RetryAfter)
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}
