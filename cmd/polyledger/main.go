package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rewired-gh/polyledger/internal/config"
	"github.com/rewired-gh/polyledger/internal/logger"
	"github.com/rewired-gh/polyledger/internal/market"
	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/monitor"
	"github.com/rewired-gh/polyledger/internal/odds"
	"github.com/rewired-gh/polyledger/internal/storage"
	"github.com/rewired-gh/polyledger/internal/storage/postgres"
	"github.com/rewired-gh/polyledger/internal/storage/redis"
	"github.com/rewired-gh/polyledger/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	nowFlag    = flag.Uint64("now", 0, "Operation timestamp in epoch milliseconds (default: current time)")
)

const usage = `Usage: polyledger [-config path] [-now ms] <command> [args]

Commands:
  create <event_id> <cutoff_ms> [description]
  stake <event_id> <yes|no> <amount>
  resolve <event_id> <yes|no>
  odds <event_id>
  market <event_id>
  markets [-limit n] [-cursor event_id]
  params [set -max-delta f -cooldown d -min-stake n -enforce-min-stake -bootstrap n]
  replay <file.jsonl|->
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	opts := []market.Option{market.WithResolveAfterCutoff(cfg.Market.ResolveAfterCutoff)}

	var mon *monitor.Monitor
	var telegramClient *telegram.Client
	if cfg.Monitor.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		mon = monitor.New(cfg.Monitor.AlertWindow)
		opts = append(opts, market.WithObserver(mon))
		logger.Debug("Alerting enabled (window %v)", cfg.Monitor.AlertWindow)
	}

	engine := market.New(store, cfg.GuardParams(), opts...)

	nowMs := *nowFlag
	if nowMs == 0 {
		nowMs = uint64(time.Now().UnixMilli())
	}

	runErr := run(ctx, engine, os.Stdout, nowMs, flag.Args())

	if mon != nil {
		if _, err := mon.Flush(telegramClient); err != nil {
			logger.Error("Failed to deliver alerts: %v", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		if errors.Is(runErr, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// openStore connects the configured storage backend.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return storage.New(cfg.Storage.DBPath)
	case config.BackendMemory:
		return storage.NewMemory(cfg.Storage.FilePath)
	case config.BackendPostgres:
		return postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
		})
	case config.BackendRedis:
		return redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Storage.Redis.Addr,
			Password:   cfg.Storage.Redis.Password,
			DB:         cfg.Storage.Redis.DB,
			Prefix:     cfg.Storage.Redis.Prefix,
			TLSEnabled: cfg.Storage.Redis.TLS,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

var errUsage = errors.New("invalid usage")

func usageErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// run executes one command and writes its JSON result to w.
func run(ctx context.Context, engine *market.Engine, w io.Writer, nowMs uint64, args []string) error {
	cmd, args := args[0], args[1:]

	switch cmd {
	case "create":
		if len(args) < 2 {
			return usageErr("create needs <event_id> <cutoff_ms>")
		}
		cutoff, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return usageErr("invalid cutoff %q", args[1])
		}
		return apply(ctx, engine, w, nowMs, models.Operation{
			Kind:        models.OpCreateMarket,
			EventID:     args[0],
			CutoffMs:    cutoff,
			Description: strings.Join(args[2:], " "),
		})

	case "stake":
		if len(args) != 3 {
			return usageErr("stake needs <event_id> <yes|no> <amount>")
		}
		return apply(ctx, engine, w, nowMs, models.Operation{
			Kind: models.OpStake, EventID: args[0], Side: args[1], Amount: args[2],
		})

	case "resolve":
		if len(args) != 2 {
			return usageErr("resolve needs <event_id> <yes|no>")
		}
		return apply(ctx, engine, w, nowMs, models.Operation{
			Kind: models.OpResolve, EventID: args[0], Outcome: args[1],
		})

	case "odds":
		if len(args) != 1 {
			return usageErr("odds needs <event_id>")
		}
		q, err := engine.Odds(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(w, q)

	case "market":
		if len(args) != 1 {
			return usageErr("market needs <event_id>")
		}
		m, found, err := engine.Market(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return writeJSON(w, map[string]interface{}{"event_id": args[0], "found": false})
		}
		return writeJSON(w, m)

	case "markets":
		fs := flag.NewFlagSet("markets", flag.ContinueOnError)
		limit := fs.Int("limit", market.DefaultPageSize, "Page size")
		cursor := fs.String("cursor", "", "Last event ID of the previous page")
		if err := fs.Parse(args); err != nil {
			return usageErr("%v", err)
		}
		page, err := engine.Markets(ctx, *limit, *cursor)
		if err != nil {
			return err
		}
		return writeJSON(w, page)

	case "params":
		return runParams(ctx, engine, w, args)

	case "replay":
		if len(args) != 1 {
			return usageErr("replay needs <file.jsonl|->")
		}
		r := io.Reader(os.Stdin)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open replay log: %w", err)
			}
			defer f.Close()
			r = f
		}
		summary, err := replay(ctx, engine, r, w)
		if err != nil {
			return err
		}
		logger.Info("Replay finished: %d applied, %d rejected", summary.Applied, summary.Rejected)
		return nil

	default:
		return usageErr("unknown command %q", cmd)
	}
}

func apply(ctx context.Context, engine *market.Engine, w io.Writer, nowMs uint64, op models.Operation) error {
	r, err := engine.Apply(ctx, op, nowMs)
	if err != nil {
		return err
	}
	return writeJSON(w, r)
}

func runParams(ctx context.Context, engine *market.Engine, w io.Writer, args []string) error {
	current, err := engine.Params(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "show" {
		return writeJSON(w, current)
	}
	if args[0] != "set" {
		return usageErr("params takes show or set")
	}

	fs := flag.NewFlagSet("params set", flag.ContinueOnError)
	maxDelta := fs.Float64("max-delta", current.MaxPriceDelta.Float64(), "Velocity cap as a fraction")
	cooldown := fs.Duration("cooldown", time.Duration(current.CooldownMs)*time.Millisecond, "Minimum interval between stakes")
	minStake := fs.String("min-stake", current.MinStake.String(), "Stake floor")
	enforce := fs.Bool("enforce-min-stake", current.EnforceMinStake, "Reject stakes below the floor")
	bootstrap := fs.String("bootstrap", current.BootstrapLiquidity.String(), "Total pool below which the velocity cap is waived")
	if err := fs.Parse(args[1:]); err != nil {
		return usageErr("%v", err)
	}

	next := current
	next.MaxPriceDelta = odds.FromFraction(*maxDelta)
	if *cooldown < 0 {
		return usageErr("cooldown must not be negative")
	}
	next.CooldownMs = uint64(*cooldown / time.Millisecond)
	next.EnforceMinStake = *enforce
	if next.MinStake, err = models.ParseAmount(*minStake); err != nil {
		return usageErr("invalid min stake: %v", err)
	}
	if next.BootstrapLiquidity, err = models.ParseAmount(*bootstrap); err != nil {
		return usageErr("invalid bootstrap liquidity: %v", err)
	}

	if err := engine.SetParams(ctx, next); err != nil {
		return err
	}
	return writeJSON(w, next)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
