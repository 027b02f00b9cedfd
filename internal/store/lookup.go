package store

import (
	"context"
	"errors"

	"github.com/sokoyetu/payments/internal/models"
)

// lookupStrategy is one way of locating a transaction. Strategies with an
// empty key are skipped so a callback missing the secondary id does not
// issue a pointless query.
type lookupStrategy struct {
	name string
	key  string
	run  func(ctx context.Context, key string) (*models.Transaction, error)
}

// firstMatch runs the strategies in order and returns the first hit.
// ErrNotFound from a strategy moves on to the next one; any other error
// aborts the chain.
func firstMatch(ctx context.Context, strategies []lookupStrategy) (*models.Transaction, error) {
	for _, strat := range strategies {
		if strat.key == "" {
			continue
		}

		tx, err := strat.run(ctx, strat.key)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}
