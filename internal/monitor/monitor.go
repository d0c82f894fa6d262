// Package monitor turns market engine events into operator alerts.
//
// The Monitor is registered as a market.Observer. It queues an alert for every
// guard rejection (velocity cap or cooldown) and every resolution, then Flush
// hands the queue to a Sender. Repeated alerts of the same kind for the same
// market are suppressed for a configurable window, unless the market's yes
// price has just entered the deterministic zone (>90% or <10%).
//
// Alert timestamps come from the operation's nowMs, not the wall clock, so a
// replayed operation log produces the same alerts.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyledger/internal/guard"
	"github.com/rewired-gh/polyledger/internal/logger"
	"github.com/rewired-gh/polyledger/internal/models"
)

// Sender delivers a batch of alerts.
type Sender interface {
	Send(alerts []models.Alert) error
}

// notifiedRecord tracks a previously sent alert for window deduplication.
type notifiedRecord struct {
	YesPrice float64
	SentAt   time.Time
}

// Monitor collects and deduplicates alerts
type Monitor struct {
	mu              sync.Mutex
	window          time.Duration
	pending         []models.Alert
	notifiedMarkets map[string]notifiedRecord // key = event ID + "/" + kind
}

// New creates a Monitor suppressing repeats within window.
func New(window time.Duration) *Monitor {
	return &Monitor{
		window:          window,
		notifiedMarkets: make(map[string]notifiedRecord),
	}
}

func recordKey(a models.Alert) string {
	return a.EventID + "/" + string(a.Kind)
}

// StakeRejected queues a velocity or cooldown alert.
func (m *Monitor) StakeRejected(ms models.MarketState, err error, nowMs uint64) {
	var kind models.AlertKind
	var velocity *guard.VelocityError
	switch {
	case errors.As(err, &velocity):
		kind = models.AlertVelocity
	case errors.Is(err, guard.ErrCooldownActive):
		kind = models.AlertCooldown
	default:
		return
	}

	yes := ms.Odds().Yes.Float64()
	if velocity != nil {
		yes = velocity.Proposed.Float64()
	}
	m.enqueue(ms.EventID, kind, err.Error(), yes, nowMs)
}

// MarketResolved queues a resolution alert.
func (m *Monitor) MarketResolved(ms models.MarketState, nowMs uint64) {
	detail := "resolved"
	if ms.Outcome != nil {
		detail = fmt.Sprintf("resolved %s with pools %s/%s", *ms.Outcome, ms.PoolYes, ms.PoolNo)
	}
	m.enqueue(ms.EventID, models.AlertResolved, detail, ms.Odds().Yes.Float64(), nowMs)
}

func (m *Monitor) enqueue(eventID string, kind models.AlertKind, detail string, yes float64, nowMs uint64) {
	a := models.Alert{
		ID:       uuid.New().String(),
		EventID:  eventID,
		Kind:     kind,
		Detail:   detail,
		YesPrice: yes,
		At:       time.UnixMilli(int64(nowMs)).UTC(),
	}
	if err := a.Validate(); err != nil {
		logger.Warn("Dropping invalid alert for %s: %v", eventID, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, a)
}

// Pending returns a copy of the queued alerts.
func (m *Monitor) Pending() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Alert{}, m.pending...)
}

// isDeterministicZone returns true when p is in the near-certain region.
func isDeterministicZone(p float64) bool {
	return p > 0.90 || p < 0.10
}

// FilterRecentlySent drops alerts whose market and kind were notified within
// the window, unless the price is entering the deterministic zone for the
// first time. Resolution alerts are never suppressed. Returns a non-nil slice.
func (m *Monitor) FilterRecentlySent(alerts []models.Alert) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterLocked(alerts)
}

func (m *Monitor) filterLocked(alerts []models.Alert) []models.Alert {
	result := []models.Alert{}
	seen := make(map[string]bool)

	for _, a := range alerts {
		key := recordKey(a)
		if a.Kind != models.AlertResolved {
			if seen[key] {
				continue
			}
			rec, exists := m.notifiedMarkets[key]
			if exists && a.At.Sub(rec.SentAt) < m.window {
				enteringDetZone := isDeterministicZone(a.YesPrice) && !isDeterministicZone(rec.YesPrice)
				if !enteringDetZone {
					continue
				}
			}
		}
		seen[key] = true
		result = append(result, a)
	}
	return result
}

// RecordNotified records alerts as sent at their own timestamps.
// Call this after a successful send to enable window deduplication.
func (m *Monitor) RecordNotified(alerts []models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(alerts)
}

func (m *Monitor) recordLocked(alerts []models.Alert) {
	for _, a := range alerts {
		m.notifiedMarkets[recordKey(a)] = notifiedRecord{
			YesPrice: a.YesPrice,
			SentAt:   a.At,
		}
	}
}

// Flush sends the deduplicated queue. The queue is cleared only on success,
// so a failed send is retried on the next Flush. Returns how many alerts went out.
func (m *Monitor) Flush(s Sender) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return 0, nil
	}

	alerts := m.filterLocked(m.pending)
	if len(alerts) == 0 {
		logger.Debug("All %d pending alerts suppressed", len(m.pending))
		m.pending = nil
		return 0, nil
	}

	if err := s.Send(alerts); err != nil {
		return 0, fmt.Errorf("failed to send %d alerts: %w", len(alerts), err)
	}

	m.recordLocked(alerts)
	logger.Info("Sent %d alerts (%d suppressed)", len(alerts), len(m.pending)-len(alerts))
	m.pending = nil
	return len(alerts), nil
}
