package models

import (
	"fmt"
	"strings"
)

// Side is one of the two outcomes of a binary market.
type Side uint8

const (
	// SideYes is the affirmative outcome.
	SideYes Side = iota + 1
	// SideNo is the negative outcome.
	SideNo
)

// ParseSide accepts "yes" or "no" in any letter case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return SideYes, nil
	case "no":
		return SideNo, nil
	default:
		return 0, fmt.Errorf("side must be YES or NO, got %q", s)
	}
}

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// MarshalText encodes the side as "YES" or "NO".
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes "YES" or "NO".
func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
