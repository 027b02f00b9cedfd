package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sokoyetu/payments/internal/models"
)

func strategy(name, key string, tx *models.Transaction, err error, hits *[]string) lookupStrategy {
	return lookupStrategy{
		name: name,
		key:  key,
		run: func(ctx context.Context, k string) (*models.Transaction, error) {
			*hits = append(*hits, name)
			return tx, err
		},
	}
}

func TestFirstMatchStopsAtFirstHit(t *testing.T) {
	var hits []string
	want := &models.Transaction{CheckoutRequestID: "ws_CO_0001"}

	got, err := firstMatch(context.Background(), []lookupStrategy{
		strategy("checkout", "ws_CO_0001", want, nil, &hits),
		strategy("merchant", "29115-1", nil, ErrNotFound, &hits),
	})

	require.NoError(t, err)
	require.Same(t, want, got)
	require.Equal(t, []string{"checkout"}, hits)
}

func TestFirstMatchFallsBackOnNotFound(t *testing.T) {
	var hits []string
	want := &models.Transaction{MerchantRequestID: "29115-1"}

	got, err := firstMatch(context.Background(), []lookupStrategy{
		strategy("checkout", "ws_CO_0001", nil, ErrNotFound, &hits),
		strategy("merchant", "29115-1", want, nil, &hits),
	})

	require.NoError(t, err)
	require.Same(t, want, got)
	require.Equal(t, []string{"checkout", "merchant"}, hits)
}

func TestFirstMatchSkipsEmptyKeys(t *testing.T) {
	var hits []string

	_, err := firstMatch(context.Background(), []lookupStrategy{
		strategy("checkout", "", nil, nil, &hits),
		strategy("merchant", "29115-1", nil, ErrNotFound, &hits),
	})

	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{"merchant"}, hits)
}

func TestFirstMatchAbortsOnRealError(t *testing.T) {
	var hits []string
	boom := errors.New("connection reset")

	_, err := firstMatch(context.Background(), []lookupStrategy{
		strategy("checkout", "ws_CO_0001", nil, boom, &hits),
		strategy("merchant", "29115-1", &models.Transaction{}, nil, &hits),
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"checkout"}, hits, "chain must stop on non-lookup errors")
}

func TestFirstMatchAllMiss(t *testing.T) {
	var hits []string

	_, err := firstMatch(context.Background(), []lookupStrategy{
		strategy("checkout", "ws_CO_0001", nil, ErrNotFound, &hits),
		strategy("merchant", "29115-1", nil, ErrNotFound, &hits),
	})

	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, hits, 2)
}
