package cache

import (
	"context"
	"time"

	"boxoffice/backend/internal/domain"
)

// SeatCache holds per-show seat maps so the till's seat picker does not
// hit the ledger on every repaint. Entries must be dropped whenever a sale
// or return touches the show.
type SeatCache interface {
	Get(ctx context.Context, showID int64) ([]domain.SeatView, bool, error)
	Set(ctx context.Context, showID int64, seats []domain.SeatView, ttl time.Duration) error
	Invalidate(ctx context.Context, showID int64) error
}

type NoopSeatCache struct{}

func (NoopSeatCache) Get(_ context.Context, _ int64) ([]domain.SeatView, bool, error) {
	return nil, false, nil
}

func (NoopSeatCache) Set(_ context.Context, _ int64, _ []domain.SeatView, _ time.Duration) error {
	return nil
}

func (NoopSeatCache) Invalidate(_ context.Context, _ int64) error {
	return nil
}
