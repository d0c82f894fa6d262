package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/polyledger/internal/models"
)

// Memory is a thread-safe in-memory Store with optional JSON file persistence.
// When a file path is configured every committed mutation rewrites the file
// atomically (temp file + rename).
type Memory struct {
	markets map[string]models.MarketState
	params  *models.GuardParams
	mu      sync.RWMutex

	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version string                        `json:"version"`
	SavedAt time.Time                     `json:"saved_at"`
	Markets map[string]models.MarketState `json:"markets"`
	Params  *models.GuardParams           `json:"params,omitempty"`
}

// NewMemory creates a Memory store. An empty filePath keeps everything in
// process memory; otherwise existing state is loaded from the file.
func NewMemory(filePath string) (*Memory, error) {
	s := &Memory{
		markets:         make(map[string]models.MarketState),
		filePath:        filePath,
		filePermissions: 0o600,
		dirPermissions:  0o755,
	}
	if filePath != "" {
		if err := s.Load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetMarket retrieves a market by event ID
func (s *Memory) GetMarket(_ context.Context, eventID string) (models.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.markets[eventID]
	if !exists {
		return models.MarketState{}, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return m.Clone(), nil
}

// CreateMarket adds a market to storage
func (s *Memory) CreateMarket(_ context.Context, m models.MarketState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.EventID]; exists {
		return fmt.Errorf("%w: %s", ErrConflict, m.EventID)
	}
	s.markets[m.EventID] = m.Clone()
	if err := s.saveLocked(); err != nil {
		delete(s.markets, m.EventID)
		return err
	}
	return nil
}

// UpdateMarket applies fn to a copy of the market and stores it if fn succeeds
func (s *Memory) UpdateMarket(_ context.Context, eventID string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.markets[eventID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}

	s.markets[eventID] = next
	if err := s.saveLocked(); err != nil {
		s.markets[eventID] = current
		return err
	}
	return nil
}

// ListMarkets returns a page of markets ordered by event ID
func (s *Memory) ListMarkets(_ context.Context, limit int, cursor string) ([]models.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	markets := make([]models.MarketState, 0, len(ids))
	for _, id := range ids {
		markets = append(markets, s.markets[id].Clone())
	}
	return markets, nil
}

// GetParams returns the parameter register
func (s *Memory) GetParams(_ context.Context) (models.GuardParams, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.params == nil {
		return models.GuardParams{}, false, nil
	}
	return *s.params, true, nil
}

// PutParams replaces the parameter register
func (s *Memory) PutParams(_ context.Context, p models.GuardParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.params
	s.params = &p
	if err := s.saveLocked(); err != nil {
		s.params = previous
		return err
	}
	return nil
}

// Close is a no-op; every mutation is already persisted.
func (s *Memory) Close() error {
	return nil
}

// Save persists storage state to file
func (s *Memory) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Memory) saveLocked() error {
	if s.filePath == "" {
		return nil
	}

	// Create data directory if needed
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := PersistenceFile{
		Version: "1.0",
		SavedAt: time.Now(),
		Markets: s.markets,
		Params:  s.params,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load restores storage state from file
func (s *Memory) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		// No file to load, start fresh
		return nil
	}

	jsonData, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	s.markets = data.Markets
	if s.markets == nil {
		s.markets = make(map[string]models.MarketState)
	}
	for id, m := range s.markets {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid market %s in %s: %w", id, s.filePath, err)
		}
	}
	s.params = data.Params

	return nil
}

var _ Store = (*Memory)(nil)
