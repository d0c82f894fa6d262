package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rewired-gh/polyledger/internal/models"
)

func mustSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustMemory(t *testing.T) *Memory {
	t.Helper()
	s, err := NewMemory("")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return s
}

// backends runs fn once per in-package Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, mustSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, mustMemory(t)) })
}

func TestStore_CreateAndGetMarket(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := models.NewMarket("btc-halving-2024", "Will BTC halving happen in 2024?", 1735689600000)

		if err := s.CreateMarket(ctx, m); err != nil {
			t.Fatalf("CreateMarket failed: %v", err)
		}

		got, err := s.GetMarket(ctx, "btc-halving-2024")
		if err != nil {
			t.Fatalf("GetMarket failed: %v", err)
		}
		if got.Description != m.Description || got.CutoffMs != m.CutoffMs {
			t.Errorf("unexpected market: %+v", got)
		}
		if !got.PoolYes.IsZero() || !got.PoolNo.IsZero() || got.Resolved || got.Outcome != nil {
			t.Errorf("new market should be empty and open: %+v", got)
		}

		if err := s.CreateMarket(ctx, m); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict on duplicate, got %v", err)
		}

		if _, err := s.GetMarket(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_CreateRejectsInvalid(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		if err := s.CreateMarket(context.Background(), models.NewMarket("", "x", 1)); err == nil {
			t.Error("expected validation error for empty event ID")
		}
	})
}

func TestStore_UpdateMarket(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateMarket(ctx, models.NewMarket("event-1", "Test?", 1_000_000)); err != nil {
			t.Fatalf("CreateMarket failed: %v", err)
		}

		big, _ := models.ParseAmount("340282366920938463463374607431768211456")
		err := s.UpdateMarket(ctx, "event-1", func(m *models.MarketState) error {
			m.PoolYes = big
			m.PoolNo = models.NewAmount(4000)
			m.LastPriceUpdateMs = 5000
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateMarket failed: %v", err)
		}

		got, err := s.GetMarket(ctx, "event-1")
		if err != nil {
			t.Fatalf("GetMarket failed: %v", err)
		}
		if got.PoolYes.Cmp(big) != 0 || got.PoolNo.Cmp(models.NewAmount(4000)) != 0 || got.LastPriceUpdateMs != 5000 {
			t.Errorf("update not persisted: %+v", got)
		}

		yes := models.SideYes
		err = s.UpdateMarket(ctx, "event-1", func(m *models.MarketState) error {
			m.Resolved = true
			m.Outcome = &yes
			return nil
		})
		if err != nil {
			t.Fatalf("resolve update failed: %v", err)
		}
		got, _ = s.GetMarket(ctx, "event-1")
		if !got.Resolved || got.Outcome == nil || *got.Outcome != models.SideYes {
			t.Errorf("outcome not persisted: %+v", got)
		}

		if err := s.UpdateMarket(ctx, "missing", func(*models.MarketState) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_UpdateMarketAbortLeavesStateUntouched(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := models.NewMarket("event-1", "Test?", 1_000_000)
		m.PoolYes = models.NewAmount(5000)
		m.PoolNo = models.NewAmount(5000)
		m.LastPriceUpdateMs = 1000
		if err := s.CreateMarket(ctx, m); err != nil {
			t.Fatalf("CreateMarket failed: %v", err)
		}

		errAbort := errors.New("abort")
		err := s.UpdateMarket(ctx, "event-1", func(m *models.MarketState) error {
			m.PoolYes = models.NewAmount(9000)
			m.LastPriceUpdateMs = 9999
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected callback error, got %v", err)
		}

		// Invalid results are rejected as well.
		err = s.UpdateMarket(ctx, "event-1", func(m *models.MarketState) error {
			m.Resolved = true // without an outcome
			return nil
		})
		if err == nil {
			t.Fatal("expected validation error")
		}

		got, _ := s.GetMarket(ctx, "event-1")
		if got.PoolYes.Cmp(models.NewAmount(5000)) != 0 || got.LastPriceUpdateMs != 1000 || got.Resolved {
			t.Errorf("aborted update leaked into storage: %+v", got)
		}
	})
}

func TestStore_ListMarkets(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"c", "a", "e", "b", "d"} {
			if err := s.CreateMarket(ctx, models.NewMarket(id, "market "+id, 1000)); err != nil {
				t.Fatalf("CreateMarket(%s) failed: %v", id, err)
			}
		}

		page, err := s.ListMarkets(ctx, 2, "")
		if err != nil {
			t.Fatalf("ListMarkets failed: %v", err)
		}
		if got := ids(page); got != "a,b" {
			t.Errorf("first page = %s, want a,b", got)
		}

		page, _ = s.ListMarkets(ctx, 2, "b")
		if got := ids(page); got != "c,d" {
			t.Errorf("second page = %s, want c,d", got)
		}

		page, _ = s.ListMarkets(ctx, 2, "d")
		if got := ids(page); got != "e" {
			t.Errorf("last page = %s, want e", got)
		}

		page, _ = s.ListMarkets(ctx, 0, "")
		if len(page) != 5 {
			t.Errorf("unbounded list returned %d markets", len(page))
		}
	})
}

func TestStore_Params(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, ok, err := s.GetParams(ctx); err != nil || ok {
			t.Fatalf("fresh store should have no params (ok=%v, err=%v)", ok, err)
		}

		p := models.DefaultGuardParams()
		p.CooldownMs = 2500
		p.EnforceMinStake = true
		if err := s.PutParams(ctx, p); err != nil {
			t.Fatalf("PutParams failed: %v", err)
		}

		got, ok, err := s.GetParams(ctx)
		if err != nil || !ok {
			t.Fatalf("GetParams failed (ok=%v, err=%v)", ok, err)
		}
		if got.CooldownMs != 2500 || !got.EnforceMinStake || got.MinStake.Cmp(p.MinStake) != 0 || got.MaxPriceDelta != p.MaxPriceDelta {
			t.Errorf("unexpected params: %+v", got)
		}

		bad := p
		bad.MaxPriceDelta = 0
		if err := s.PutParams(ctx, bad); err == nil {
			t.Error("expected invalid params to be rejected")
		}
	})
}

func TestMemory_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "markets.json")
	ctx := context.Background()

	s, err := NewMemory(path)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	m := models.NewMarket("event-1", "Test?", 1_000_000)
	m.PoolYes = models.NewAmount(6000)
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if err := s.PutParams(ctx, models.DefaultGuardParams()); err != nil {
		t.Fatalf("PutParams failed: %v", err)
	}

	// Every mutation is persisted, so a second instance sees it.
	s2, err := NewMemory(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	loaded, err := s2.GetMarket(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetMarket after load failed: %v", err)
	}
	if loaded.Description != "Test?" || loaded.PoolYes.Cmp(models.NewAmount(6000)) != 0 {
		t.Errorf("unexpected loaded market: %+v", loaded)
	}
	if _, ok, _ := s2.GetParams(ctx); !ok {
		t.Error("params not restored")
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyledger.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.CreateMarket(ctx, models.NewMarket("event-1", "Test?", 1_000_000)); err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetMarket(ctx, "event-1"); err != nil {
		t.Errorf("market lost after reopen: %v", err)
	}
}

func ids(markets []models.MarketState) string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.EventID)
	}
	return strings.Join(out, ",")
}
