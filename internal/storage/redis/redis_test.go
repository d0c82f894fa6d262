package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/storage"
)

// mustStore connects to POLYLEDGER_TEST_REDIS_ADDR under a unique prefix or skips.
func mustStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("POLYLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYLEDGER_TEST_REDIS_ADDR not set")
	}
	s, err := New(context.Background(), ClientConfig{Addr: addr, Prefix: "polyledger-test:" + uuid.New().String() + ":"})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKeys(t *testing.T) {
	s := &Store{prefix: "pl:"}
	if got := s.marketKey("btc"); got != "pl:market:btc" {
		t.Errorf("marketKey = %s", got)
	}
	if got := s.indexKey(); got != "pl:markets" {
		t.Errorf("indexKey = %s", got)
	}
	if got := s.paramsKey(); got != "pl:params" {
		t.Errorf("paramsKey = %s", got)
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := s.CreateMarket(ctx, models.NewMarket(id, "Test?", 1_000_000)); err != nil {
			t.Fatalf("CreateMarket(%s) failed: %v", id, err)
		}
	}
	if err := s.CreateMarket(ctx, models.NewMarket("a", "again", 1)); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	err := s.UpdateMarket(ctx, "a", func(m *models.MarketState) error {
		m.PoolYes = models.NewAmount(6000)
		m.LastPriceUpdateMs = 99
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateMarket failed: %v", err)
	}
	got, err := s.GetMarket(ctx, "a")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if got.PoolYes.Cmp(models.NewAmount(6000)) != 0 || got.LastPriceUpdateMs != 99 {
		t.Errorf("unexpected market: %+v", got)
	}

	page, err := s.ListMarkets(ctx, 2, "a")
	if err != nil {
		t.Fatalf("ListMarkets failed: %v", err)
	}
	if len(page) != 2 || page[0].EventID != "b" || page[1].EventID != "c" {
		t.Errorf("unexpected page: %+v", page)
	}

	if err := s.UpdateMarket(ctx, "zzz", func(*models.MarketState) error { return nil }); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
