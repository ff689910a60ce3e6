package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rappen/RappSack/internal/identity"
	"github.com/rappen/RappSack/internal/store"
)

// Built-in task names.
const (
	TaskSweepTokens      = "sweep_tokens"
	TaskPurgeInvocations = "purge_invocations"
	TaskVacuum           = "vacuum"
)

// SweepTokens drops expired entries from the token cache.
func SweepTokens(cache *identity.TokenCache, logger *slog.Logger) Task {
	return func(_ context.Context, _ map[string]any) error {
		if n := cache.Sweep(); n > 0 {
			logger.Debug("swept expired tokens", slog.Int("count", n))
		}
		return nil
	}
}

// PurgeInvocations deletes journal entries older than the retention
// period. The "retention_days" param overrides defaultDays.
func PurgeInvocations(st store.Store, defaultDays int, now func() time.Time, logger *slog.Logger) Task {
	return func(ctx context.Context, params map[string]any) error {
		days := defaultDays
		if v, ok := params["retention_days"]; ok {
			f, ok := v.(float64)
			if !ok || f < 1 {
				return fmt.Errorf("retention_days must be a positive number, got %v", v)
			}
			days = int(f)
		}
		if days < 1 {
			return fmt.Errorf("retention period is not set")
		}
		cutoff := now().AddDate(0, 0, -days)
		n, err := st.PurgeInvocations(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("purged invocations",
			slog.Int64("count", n),
			slog.Time("before", cutoff),
		)
		return nil
	}
}

// Vacuum compacts the database.
func Vacuum(st store.Store) Task {
	return func(ctx context.Context, _ map[string]any) error {
		return st.Vacuum(ctx)
	}
}
