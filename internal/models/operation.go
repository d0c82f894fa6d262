package models

// OperationKind names a mutating operation.
type OperationKind string

const (
	OpCreateMarket OperationKind = "create_market"
	OpStake        OperationKind = "stake"
	OpResolve      OperationKind = "resolve"
)

// Operation is the wire envelope of a mutating operation. Side, Outcome and
// Amount stay raw strings here and are parsed by the market engine, so a
// malformed value surfaces as a typed rejection rather than a decode error.
type Operation struct {
	Kind        OperationKind `json:"kind"`
	EventID     string        `json:"event_id"`
	Description string        `json:"description,omitempty"`
	CutoffMs    uint64        `json:"cutoff_ts,omitempty"`
	Side        string        `json:"side,omitempty"`
	Amount      string        `json:"amount,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
}

// Page is one page of a market listing.
type Page struct {
	Markets    []MarketState `json:"markets"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
