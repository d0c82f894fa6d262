package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sidePtr(s Side) *Side { return &s }

func TestMarketStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  MarketState
		wantErr bool
	}{
		{
			name:    "valid open market",
			market:  NewMarket("btc-halving-2024", "Will BTC halving happen in 2024?", 1735689600000),
			wantErr: false,
		},
		{
			name: "valid resolved market",
			market: MarketState{
				EventID:  "integration-test",
				CutoffMs: 1735689600000,
				Resolved: true,
				Outcome:  sidePtr(SideYes),
				PoolYes:  NewAmount(15000),
				PoolNo:   NewAmount(8000),
			},
			wantErr: false,
		},
		{
			name:    "empty event ID",
			market:  NewMarket("", "desc", 1000),
			wantErr: true,
		},
		{
			name:    "event ID too long",
			market:  NewMarket(strings.Repeat("x", MaxEventIDLength+1), "desc", 1000),
			wantErr: true,
		},
		{
			name:    "zero cutoff",
			market:  NewMarket("test", "desc", 0),
			wantErr: true,
		},
		{
			name: "resolved without outcome",
			market: MarketState{
				EventID:  "test",
				CutoffMs: 1000,
				Resolved: true,
			},
			wantErr: true,
		},
		{
			name: "outcome while open",
			market: MarketState{
				EventID:  "test",
				CutoffMs: 1000,
				Outcome:  sidePtr(SideNo),
			},
			wantErr: true,
		},
		{
			name: "invalid outcome",
			market: MarketState{
				EventID:  "test",
				CutoffMs: 1000,
				Resolved: true,
				Outcome:  sidePtr(Side(7)),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("MarketState.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarketStateStatus(t *testing.T) {
	m := NewMarket("test", "desc", 1_000_000)

	if got := m.Status(999_999); got != StatusOpen {
		t.Errorf("before cutoff: got %s, want open", got)
	}
	if got := m.Status(1_000_000); got != StatusClosed {
		t.Errorf("at cutoff: got %s, want closed", got)
	}
	if got := m.Status(1_000_001); got != StatusClosed {
		t.Errorf("after cutoff: got %s, want closed", got)
	}

	m.Resolved = true
	m.Outcome = sidePtr(SideYes)
	if got := m.Status(0); got != StatusResolved {
		t.Errorf("resolved: got %s, want resolved", got)
	}
}

func TestMarketStateCloneIsDeep(t *testing.T) {
	m := MarketState{EventID: "test", CutoffMs: 1, Resolved: true, Outcome: sidePtr(SideYes)}
	c := m.Clone()
	*c.Outcome = SideNo
	if *m.Outcome != SideYes {
		t.Error("mutating the clone's outcome changed the original")
	}
}

func TestMarketStateJSON(t *testing.T) {
	m := MarketState{
		EventID:           "test",
		Description:       "Test market",
		CutoffMs:          9999999999999,
		Resolved:          true,
		Outcome:           sidePtr(SideYes),
		PoolYes:           NewAmount(6000),
		PoolNo:            NewAmount(4000),
		LastPriceUpdateMs: 1234567890,
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, want := range []string{`"pool_yes":"6000"`, `"outcome":"YES"`, `"cutoff_ts":9999999999999`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}

	var decoded MarketState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.PoolYes.Cmp(m.PoolYes) != 0 || *decoded.Outcome != SideYes {
		t.Errorf("decoded market differs: %+v", decoded)
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"YES", SideYes, false},
		{"yes", SideYes, false},
		{" No ", SideNo, false},
		{"MAYBE", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAmount(t *testing.T) {
	a, err := ParseAmount("340282366920938463463374607431768211456") // 2^128
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if a.String() != "340282366920938463463374607431768211456" {
		t.Errorf("round trip mismatch: %s", a)
	}

	for _, bad := range []string{"", "-5", "+5", "abc", "1.5"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q) should fail", bad)
		}
	}

	max, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		t.Fatalf("ParseAmount(max) failed: %v", err)
	}
	if _, overflow := max.Add(NewAmount(1)); !overflow {
		t.Error("expected overflow adding 1 to 2^256-1")
	}
	sum, overflow := NewAmount(5000).Add(NewAmount(1000))
	if overflow || sum.Cmp(NewAmount(6000)) != 0 {
		t.Errorf("5000+1000 = %s (overflow %v)", sum, overflow)
	}
}

func TestGuardParamsValidate(t *testing.T) {
	p := DefaultGuardParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}

	p.MaxPriceDelta = 0
	if err := p.Validate(); err == nil {
		t.Error("zero velocity cap should be invalid")
	}

	p = DefaultGuardParams()
	p.EnforceMinStake = true
	p.MinStake = Amount{}
	if err := p.Validate(); err == nil {
		t.Error("enforced zero min stake should be invalid")
	}
}

func TestAlertValidate(t *testing.T) {
	a := Alert{ID: "a-1", EventID: "e-1", Kind: AlertVelocity, YesPrice: 0.5, At: time.Now()}
	if err := a.Validate(); err != nil {
		t.Errorf("valid alert rejected: %v", err)
	}
	a.Kind = "spike"
	if err := a.Validate(); err == nil {
		t.Error("unknown kind should be rejected")
	}
}
