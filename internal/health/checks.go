package health

import (
	"context"
	"fmt"
	"time"

	"github.com/routeguard/routeguard/internal/store"
)

// StoreCheck verifies the counter store with a write/read round trip.
func StoreCheck(s store.Store) CheckFunc {
	return func(ctx context.Context) error {
		key := "health:probe"

		if _, err := s.IncrementWithExpiry(ctx, key, 1, time.Minute); err != nil {
			return fmt.Errorf("store increment failed: %w", err)
		}
		if _, err := s.Get(ctx, key); err != nil {
			return fmt.Errorf("store get failed: %w", err)
		}
		return nil
	}
}
