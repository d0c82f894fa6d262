package models

import (
	"errors"
	"time"
)

// AlertKind classifies a market alert.
type AlertKind string

const (
	AlertVelocity AlertKind = "velocity"
	AlertCooldown AlertKind = "cooldown"
	AlertResolved AlertKind = "resolved"
)

// Alert is a notable market event queued for notification.
type Alert struct {
	ID       string    `json:"id"`
	EventID  string    `json:"event_id"`
	Kind     AlertKind `json:"kind"`
	Detail   string    `json:"detail"`
	YesPrice float64   `json:"yes_price"`
	At       time.Time `json:"at"`
}

// Validate checks that all alert fields are valid
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	switch a.Kind {
	case AlertVelocity, AlertCooldown, AlertResolved:
	default:
		return errors.New("alert kind must be velocity, cooldown or resolved")
	}
	if a.YesPrice < 0.0 || a.YesPrice > 1.0 {
		return errors.New("yes price must be between 0.0 and 1.0")
	}
	return nil
}
