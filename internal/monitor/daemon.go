// internal/monitor/daemon.go
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/batch"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/events"
	"github.com/rovshanmuradov/meteora-bot/internal/rebalance"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/pace"
	"go.uber.org/zap"
)

// ExitStrategy - реакция демона на выход позиции из диапазона.
type ExitStrategy int

const (
	// ExitLiquidate: закрыть, собрать токены на main и продать.
	ExitLiquidate ExitStrategy = iota
	// ExitRotate: закрыть, переоткрыть в токенах и следить за дрейфом.
	ExitRotate
)

func (s ExitStrategy) String() string {
	if s == ExitRotate {
		return "rotate"
	}
	return "liquidate"
}

// ParseExitStrategy принимает "liquidate"/"sell"/"1" и "rotate"/"reopen"/"2".
func ParseExitStrategy(s string) (ExitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "liquidate", "sell", "1":
		return ExitLiquidate, nil
	case "rotate", "reopen", "2":
		return ExitRotate, nil
	default:
		return 0, &domain.ValidationError{Field: "exit_strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
	}
}

// TerminationReason - причина, по которой Run вернул управление.
type TerminationReason int

const (
	TerminationCancelled TerminationReason = iota
	TerminationNoPositions
	TerminationCloseFailed
)

func (r TerminationReason) String() string {
	switch r {
	case TerminationNoPositions:
		return "no_positions"
	case TerminationCloseFailed:
		return "close_failed"
	default:
		return "cancelled"
	}
}

// Termination - итог одного запуска мониторинга.
type Termination struct {
	Reason TerminationReason
	// Аккаунты, которые не удалось закрыть, при Reason == TerminationCloseFailed.
	Accounts []string
}

func (t Termination) String() string {
	if len(t.Accounts) == 0 {
		return t.Reason.String()
	}
	return fmt.Sprintf("%s [%s]", t.Reason, strings.Join(t.Accounts, ", "))
}

// Config задает ритм работы демона.
type Config struct {
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	WatchInterval   time.Duration
	RotateThreshold int32
	LegAttempts     uint
	LegBackoff      time.Duration
	CloseSettle     time.Duration
	OpenSettle      time.Duration
	// Раскладка позиций в токенах, которые открывает rotate.
	RotateShape domain.Shape
	RotateWidth int32
}

// DefaultConfig: опрос каждые 20с, перепроверка ротированных позиций каждые 30с.
func DefaultConfig() Config {
	return Config{
		PollInterval:    20 * time.Second,
		ErrorBackoff:    10 * time.Second,
		WatchInterval:   30 * time.Second,
		RotateThreshold: 5,
		LegAttempts:     3,
		LegBackoff:      time.Second,
		CloseSettle:     2 * time.Second,
		OpenSettle:      2 * time.Second,
		RotateShape:     domain.ShapeSkewed,
		RotateWidth:     domain.DefaultRangeWidth,
	}
}

// Request описывает один запуск мониторинга.
type Request struct {
	Accounts []domain.Account
	Pool     string
	Strategy ExitStrategy
	// Main получает собранные токены перед продажей. Без него каждый
	// аккаунт продает свои токены сам.
	Main *domain.Account
}

// Daemon watches positions of a set of accounts in one pool and reacts when
// they leave their range. It holds no state between polls.
type Daemon struct {
	chain  domain.ChainGateway
	funds  *rebalance.Helper
	exec   *batch.Executor
	reader *batch.Executor
	cfg    Config
	bus    events.Publisher
	logger *zap.Logger
	sleep  pace.SleepFunc
}

// NewDaemon собирает демон. funds может быть nil, если нужен только rotate.
func NewDaemon(
	chain domain.ChainGateway,
	funds *rebalance.Helper,
	exec *batch.Executor,
	cfg Config,
	bus events.Publisher,
	logger *zap.Logger,
) *Daemon {
	if bus == nil {
		bus = events.Nop{}
	}
	if cfg.LegAttempts == 0 {
		cfg.LegAttempts = 1
	}
	return &Daemon{
		chain:  chain,
		funds:  funds,
		exec:   exec,
		reader: exec.WithoutJitter(),
		cfg:    cfg,
		bus:    bus,
		logger: logger.Named("monitor"),
		sleep:  pace.Sleep,
	}
}

// Run опрашивает сеть, пока не выполнится условие остановки или не отменят ctx.
// Ошибку возвращают только невалидные запросы.
func (d *Daemon) Run(ctx context.Context, req Request) (Termination, error) {
	pool, err := validate(req)
	if err != nil {
		return Termination{}, err
	}
	log := d.logger.With(zap.String("pool", pool.String()), zap.Stringer("strategy", req.Strategy))
	log.Info("👀 Monitoring started",
		zap.Int("accounts", len(req.Accounts)),
		zap.Duration("interval", d.cfg.PollInterval))

	term := d.loop(ctx, req, pool, log)

	log.Info("🛑 Monitoring stopped", zap.Stringer("reason", term))
	_ = d.bus.Publish(&events.TerminatedEvent{
		BaseEvent: events.NewBase(events.MonitorTerminated),
		Pool:      pool.String(),
		Reason:    term.Reason.String(),
		Detail:    term.Accounts,
	})
	return term, nil
}

func (d *Daemon) loop(ctx context.Context, req Request, pool solana.PublicKey, log *zap.Logger) Termination {
	cancelled := Termination{Reason: TerminationCancelled}

	for {
		if ctx.Err() != nil {
			return cancelled
		}

		snap := d.poll(ctx, req.Accounts, pool)
		if ctx.Err() != nil {
			return cancelled
		}
		if snap.failed == len(req.Accounts) {
			log.Warn("Poll failed for every account, backing off", zap.Duration("backoff", d.cfg.ErrorBackoff))
			if d.sleep(ctx, d.cfg.ErrorBackoff) != nil {
				return cancelled
			}
			continue
		}
		if snap.failed == 0 && len(snap.positions) == 0 {
			return Termination{Reason: TerminationNoPositions}
		}

		d.logStatus(req.Accounts, snap, log)

		affected := snap.outOfRange(req.Accounts)
		if len(affected) == 0 {
			if d.sleep(ctx, d.cfg.PollInterval) != nil {
				return cancelled
			}
			continue
		}

		ids := domain.AccountIDs(affected)
		log.Warn("⚠️ Positions out of range", zap.Strings("accounts", ids))
		_ = d.bus.Publish(&events.RangeExitEvent{
			BaseEvent: events.NewBase(events.RangeExitDetected),
			Pool:      pool.String(),
			Accounts:  ids,
		})

		switch req.Strategy {
		case ExitLiquidate:
			failed := d.liquidate(ctx, affected, pool, req.Main, snap.tokenMint())
			if ctx.Err() != nil {
				return cancelled
			}
			if len(failed) > 0 {
				log.Error("❌ Failed to close all positions, finish them manually", zap.Strings("accounts", failed))
				return Termination{Reason: TerminationCloseFailed, Accounts: failed}
			}
		case ExitRotate:
			rotated := d.rotate(ctx, affected, pool)
			if ctx.Err() != nil {
				return cancelled
			}
			if len(rotated) > 0 {
				return d.watch(ctx, rotated, pool, log)
			}
			log.Warn("No position was rotated, back to polling")
			if d.sleep(ctx, d.cfg.PollInterval) != nil {
				return cancelled
			}
		}
	}
}

// watch перепроверяет ротированные аккаунты и снова ротирует те, у которых
// активный бин ушел выше нижней границы больше чем на RotateThreshold.
func (d *Daemon) watch(ctx context.Context, accounts []domain.Account, pool solana.PublicKey, log *zap.Logger) Termination {
	cancelled := Termination{Reason: TerminationCancelled}
	log.Info("Watching rotated positions",
		zap.Strings("accounts", domain.AccountIDs(accounts)),
		zap.Duration("interval", d.cfg.WatchInterval),
		zap.Int32("threshold", d.cfg.RotateThreshold))

	for {
		if d.sleep(ctx, d.cfg.WatchInterval) != nil {
			return cancelled
		}

		snap := d.poll(ctx, accounts, pool)
		if ctx.Err() != nil {
			return cancelled
		}
		if snap.failed == 0 && len(snap.positions) == 0 {
			return Termination{Reason: TerminationNoPositions}
		}

		var drifted []domain.Account
		for _, acc := range accounts {
			if pos := snap.positions[acc.ID]; pos != nil && NeedsRotation(pos, d.cfg.RotateThreshold) {
				log.Info("Position requires reopening",
					zap.String("account", acc.ID),
					zap.Int32("bin_drift", pos.Drift()))
				drifted = append(drifted, acc)
			}
		}
		if len(drifted) > 0 {
			d.rotate(ctx, drifted, pool)
		}
	}
}

// NeedsRotation сообщает, ушел ли активный бин строго больше чем на
// threshold бинов выше нижней границы.
func NeedsRotation(pos *domain.Position, threshold int32) bool {
	return pos.Drift() > threshold
}

type snapshot struct {
	positions map[string]*domain.Position
	failed    int
}

func (s snapshot) outOfRange(accounts []domain.Account) []domain.Account {
	var out []domain.Account
	for _, acc := range accounts {
		if pos := s.positions[acc.ID]; pos != nil && pos.OutOfRange() {
			out = append(out, acc)
		}
	}
	return out
}

func (s snapshot) tokenMint() *solana.PublicKey {
	for _, pos := range s.positions {
		if !pos.TokenMint.IsZero() {
			mint := pos.TokenMint
			return &mint
		}
	}
	return nil
}

func (d *Daemon) poll(ctx context.Context, accounts []domain.Account, pool solana.PublicKey) snapshot {
	var mu sync.Mutex
	positions := make(map[string]*domain.Position, len(accounts))

	outcomes := d.reader.Run(ctx, accounts, func(ctx context.Context, acc domain.Account) error {
		pos, err := d.chain.GetPosition(ctx, acc, pool)
		if err != nil {
			return err
		}
		if pos != nil {
			mu.Lock()
			positions[acc.ID] = pos
			mu.Unlock()
		}
		return nil
	})

	return snapshot{positions: positions, failed: len(domain.FailedIDs(outcomes))}
}

func (d *Daemon) logStatus(accounts []domain.Account, snap snapshot, log *zap.Logger) {
	for _, acc := range accounts {
		pos := snap.positions[acc.ID]
		if pos == nil {
			continue
		}
		log.Info("Position status",
			zap.String("wallet", acc.Short()),
			zap.Float64("sol_value", domain.LamportsToSOL(pos.NativeAmount)),
			zap.Int32("current_bin", pos.ActiveBin),
			zap.Int32("lower_bin", pos.LowerBin))
	}
}

func validate(req Request) (solana.PublicKey, error) {
	pool, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Pool))
	if err != nil || pool.IsZero() {
		return solana.PublicKey{}, &domain.ValidationError{Field: "pool", Reason: fmt.Sprintf("%q is not a valid address", req.Pool)}
	}
	if len(req.Accounts) == 0 {
		return solana.PublicKey{}, &domain.ValidationError{Field: "accounts", Reason: "no accounts selected"}
	}
	if req.Strategy != ExitLiquidate && req.Strategy != ExitRotate {
		return solana.PublicKey{}, &domain.ValidationError{Field: "exit_strategy", Reason: "unsupported"}
	}
	return pool, nil
}
