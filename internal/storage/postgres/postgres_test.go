package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/storage"
)

// mustStore connects to POLYLEDGER_TEST_POSTGRES_DSN or skips.
func mustStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POLYLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLYLEDGER_TEST_POSTGRES_DSN not set")
	}
	s, err := New(context.Background(), ClientConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()
	id := "pg-test-" + uuid.New().String()

	if err := s.CreateMarket(ctx, models.NewMarket(id, "Test?", 1_000_000)); err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if err := s.CreateMarket(ctx, models.NewMarket(id, "Test?", 1_000_000)); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	big, _ := models.ParseAmount("340282366920938463463374607431768211456")
	err := s.UpdateMarket(ctx, id, func(m *models.MarketState) error {
		m.PoolYes = big
		m.LastPriceUpdateMs = 42
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateMarket failed: %v", err)
	}

	errAbort := errors.New("abort")
	if err := s.UpdateMarket(ctx, id, func(m *models.MarketState) error {
		m.PoolNo = models.NewAmount(1)
		return errAbort
	}); !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	got, err := s.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if got.PoolYes.Cmp(big) != 0 || !got.PoolNo.IsZero() || got.LastPriceUpdateMs != 42 {
		t.Errorf("unexpected market: %+v", got)
	}

	if _, err := s.GetMarket(ctx, id+"-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Params(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	p := models.DefaultGuardParams()
	p.CooldownMs = 1234
	if err := s.PutParams(ctx, p); err != nil {
		t.Fatalf("PutParams failed: %v", err)
	}
	got, ok, err := s.GetParams(ctx)
	if err != nil || !ok {
		t.Fatalf("GetParams failed (ok=%v, err=%v)", ok, err)
	}
	if got.CooldownMs != 1234 {
		t.Errorf("cooldown = %d, want 1234", got.CooldownMs)
	}
}
