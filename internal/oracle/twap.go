package oracle

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
)

// ComputeTWAP returns the average accumulator rate since the window opened at
// created_at + start_delay. Ordering is checked before the elapsed time is formed.
func ComputeTWAP(o *domain.TwapOracle) (*uint256.Int, error) {
	if o.CreatedAtTimestamp > math.MaxInt64-int64(o.StartDelaySeconds) {
		return nil, domain.ErrLastUpdateTooRecent
	}
	start := o.CreatedAtTimestamp + int64(o.StartDelaySeconds)

	if o.LastUpdatedTimestamp <= start {
		return nil, fmt.Errorf("last update %d, window start %d: %w",
			o.LastUpdatedTimestamp, start, domain.ErrLastUpdateTooRecent)
	}

	elapsed := uint64(o.LastUpdatedTimestamp) - uint64(start)
	if elapsed == 0 {
		return nil, domain.ErrNotEnoughTimePassed
	}
	if o.Aggregator.IsZero() {
		return nil, domain.ErrInvalidOracleAggregator
	}

	return new(uint256.Int).Div(&o.Aggregator, uint256.NewInt(elapsed)), nil
}
