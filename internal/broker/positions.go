package broker

import (
	"context"
	"math"
	"time"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
)

// FindPosition returns the first holding whose symbol matches exactly.
func FindPosition(items []PositionItem, symbol string) (*PositionItem, bool) {
	for i := range items {
		if items[i].Symbol == symbol {
			return &items[i], true
		}
	}
	return nil, false
}

// SnapshotFromItem derives signed quantity and unrealized P&L from a holding.
// Shorts are negated and their P&L sign is inverted.
func SnapshotFromItem(item PositionItem) models.Snapshot {
	qty := math.Abs(item.Quantity.Float64())
	if item.QuantityDirection == DirectionShort {
		qty = -qty
	}

	multiplier := item.Multiplier.Float64()
	if multiplier == 0 {
		multiplier = 1
	}
	closePrice := item.ClosePrice.Float64()
	pnl := (closePrice - item.AverageOpenPrice.Float64()) * math.Abs(qty) * multiplier
	if qty < 0 {
		pnl = -pnl
	}

	return models.Snapshot{
		Symbol:        item.Symbol,
		Quantity:      qty,
		UnrealizedPnL: pnl,
		Price:         closePrice,
	}
}

// ReadPosition fetches holdings and returns the snapshot for symbol. An
// instrument absent from the account yields a zero snapshot, not an error.
func ReadPosition(ctx context.Context, b Broker, token, symbol string) (models.Snapshot, error) {
	items, err := b.GetPositions(ctx, token)
	if err != nil {
		return models.Snapshot{}, err
	}

	snap := models.Snapshot{Symbol: symbol}
	if item, ok := FindPosition(items, symbol); ok {
		snap = SnapshotFromItem(*item)
	}
	snap.ReadAt = time.Now()
	return snap, nil
}
