package reminder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const defaultSweepBatch = 500

type SweepStats struct {
	Scanned int `json:"scanned"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// Reindexer rebuilds the index from the store. Adding an id that is already
// indexed only rewrites its score, so a sweep is safe to repeat.
type Reindexer struct {
	repo   Repository
	index  Index
	batch  int
	logger zerolog.Logger
}

func NewReindexer(repo Repository, index Index, logger zerolog.Logger) *Reindexer {
	return &Reindexer{
		repo:   repo,
		index:  index,
		batch:  defaultSweepBatch,
		logger: logger.With().Str("component", "reminder-reindex").Logger(),
	}
}

// Sweep adds every unsent reminder to the index. Index failures are counted
// and the sweep continues; a store failure stops it.
func (r *Reindexer) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	var afterID int64
	for {
		page, err := r.repo.ListUnsent(ctx, afterID, r.batch)
		if err != nil {
			return stats, fmt.Errorf("list unsent reminders after %d: %w", afterID, err)
		}
		for _, n := range page {
			stats.Scanned++
			if err := r.index.Add(ctx, n.UserID, n.ID, n.RemindAt); err != nil {
				stats.Failed++
				r.logger.Warn().Err(err).Int64("notification_id", n.ID).Msg("reindex reminder")
				continue
			}
			stats.Indexed++
		}
		if len(page) < r.batch {
			break
		}
		afterID = page[len(page)-1].ID
	}

	r.logger.Info().
		Int("scanned", stats.Scanned).
		Int("indexed", stats.Indexed).
		Int("failed", stats.Failed).
		Msg("reindex sweep finished")
	return stats, nil
}
