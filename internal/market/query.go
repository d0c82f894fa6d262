package market

import (
	"context"
	"errors"

	"github.com/rewired-gh/polyledger/internal/models"
)

// Odds returns the live price of a market computed from its stored pools.
func (e *Engine) Odds(ctx context.Context, eventID string) (Quote, error) {
	m, err := e.store.GetMarket(ctx, eventID)
	if err != nil {
		return Quote{}, err
	}
	pair := m.Odds()
	return Quote{
		EventID:      m.EventID,
		Yes:          pair.Yes,
		No:           pair.No,
		LastUpdateMs: m.LastPriceUpdateMs,
	}, nil
}

// Market returns a snapshot of a market. An unknown ID reports found=false
// and no error.
func (e *Engine) Market(ctx context.Context, eventID string) (models.MarketState, bool, error) {
	m, err := e.store.GetMarket(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return models.MarketState{}, false, nil
	}
	if err != nil {
		return models.MarketState{}, false, err
	}
	return m, true, nil
}

// Markets returns one page of markets ordered by event ID. cursor is the last
// event ID of the previous page; NextCursor is empty on the final page.
func (e *Engine) Markets(ctx context.Context, limit int, cursor string) (models.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	markets, err := e.store.ListMarkets(ctx, limit+1, cursor)
	if err != nil {
		return models.Page{}, err
	}

	page := models.Page{Markets: markets}
	if len(markets) > limit {
		page.Markets = markets[:limit]
		page.NextCursor = markets[limit-1].EventID
	}
	return page, nil
}
