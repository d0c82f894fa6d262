package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rewired-gh/polyledger/internal/logger"
	"github.com/rewired-gh/polyledger/internal/market"
	"github.com/rewired-gh/polyledger/internal/models"
)

// replayEntry is one line of a replay log.
type replayEntry struct {
	Op    models.Operation `json:"op"`
	NowMs uint64           `json:"now_ms"`
}

// replayResult is written for every replayed line.
type replayResult struct {
	Line    int             `json:"line"`
	Receipt *market.Receipt `json:"receipt,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type replaySummary struct {
	Applied  int
	Rejected int
}

// replay applies a JSON-lines operation log in order. A rejected operation is
// reported and skipped; a malformed line aborts the replay.
func replay(ctx context.Context, engine *market.Engine, r io.Reader, w io.Writer) (replaySummary, error) {
	var summary replaySummary
	enc := json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var entry replayEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return summary, fmt.Errorf("line %d: invalid entry: %w", line, err)
		}

		result := replayResult{Line: line}
		receipt, err := engine.Apply(ctx, entry.Op, entry.NowMs)
		if err != nil {
			summary.Rejected++
			result.Error = err.Error()
			logger.Debug("Replay line %d rejected: %v", line, err)
		} else {
			summary.Applied++
			result.Receipt = &receipt
		}
		if err := enc.Encode(result); err != nil {
			return summary, fmt.Errorf("failed to write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("failed to read replay log: %w", err)
	}
	return summary, nil
}
