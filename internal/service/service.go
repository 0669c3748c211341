package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/alerting"
	"stock-dropdown-alerts/internal/config"
	"stock-dropdown-alerts/internal/dropdown"
	"stock-dropdown-alerts/internal/scheduler"
	"stock-dropdown-alerts/internal/storage"
)

// PriceSampler samples latest prices for a list of tickers.
type PriceSampler interface {
	SampleAll(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// WindowEvaluator reduces a ticker's trailing window into a candidate event.
type WindowEvaluator interface {
	Evaluate(ctx context.Context, symbol string, now time.Time) (storage.DropdownEvent, error)
}

// Reconciler applies the single-slot replacement policy.
type Reconciler interface {
	Reconcile(ctx context.Context, candidate storage.DropdownEvent) (dropdown.Outcome, error)
}

// Service runs the watch cycle: prune, sample, persist, evaluate, reconcile,
// notify. Strictly sequential; one cycle per invocation.
type Service struct {
	scheduler    *scheduler.Scheduler
	sampler      PriceSampler
	evaluator    WindowEvaluator
	ledger       Reconciler
	observations storage.ObservationStore
	notifier     alerting.Notifier
	logger       zerolog.Logger

	symbols   []string
	retention time.Duration
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the watch service.
func New(cfg *config.Config, sched *scheduler.Scheduler, sampler PriceSampler, evaluator WindowEvaluator, ledger Reconciler, observations storage.ObservationStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := observations.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		sampler:      sampler,
		evaluator:    evaluator,
		ledger:       ledger,
		observations: observations,
		notifier:     notifier,
		logger:       logger.With().Str("component", "service").Logger(),
		symbols:      cfg.Tracking.Symbols,
		retention:    cfg.Dropdown.Retention,
		alertsOn:     cfg.Alerting.Enabled,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 在单次调度触发时执行一个完整周期。
func (s *Service) ProcessTick(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", now).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.RunCycle(ctx, now)
}

// RunCycle executes one full cycle against a fixed reference time.
// Pruning is best effort; a store failure during persisting or evaluating
// aborts the remainder of the cycle but leaves the next one unaffected.
func (s *Service) RunCycle(ctx context.Context, now time.Time) error {
	if s.observations == nil {
		return fmt.Errorf("observation store not configured")
	}

	s.prune(ctx, now)

	prices, err := s.sampler.SampleAll(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("sample tickers: %w", err)
	}
	s.logger.Info().Int("sampled", len(prices)).Int("tracked", len(s.symbols)).Msg("sampling complete")

	if err := s.persist(ctx, now, prices); err != nil {
		return err
	}

	return s.evaluate(ctx, now, prices)
}

func (s *Service) prune(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention)
	deleted, err := s.observations.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("prune failed, continuing cycle")
		return
	}
	s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned aged observations")
}

func (s *Service) persist(ctx context.Context, now time.Time, prices map[string]decimal.Decimal) error {
	for _, symbol := range s.symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		obs := storage.PriceObservation{
			Symbol:     symbol,
			Price:      price,
			ObservedAt: now,
		}
		if err := s.observations.InsertObservation(ctx, obs); err != nil {
			return fmt.Errorf("persist observation for %s: %w", symbol, err)
		}
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, now time.Time, prices map[string]decimal.Decimal) error {
	for _, symbol := range s.symbols {
		candidate, err := s.evaluator.Evaluate(ctx, symbol, now)
		if err != nil {
			if errors.Is(err, dropdown.ErrNoData) {
				s.logger.Debug().Str("ticker", symbol).Msg("no observations in window, skipping ticker")
				continue
			}
			return fmt.Errorf("evaluate %s: %w", symbol, err)
		}

		if current, ok := prices[symbol]; ok {
			s.logger.Debug().
				Str("ticker", symbol).
				Str("peak_to_current_pct", dropdown.PeakToCurrent(candidate.MaxPrice, current).StringFixed(2)).
				Msg("live distance from window peak")
		}

		outcome, err := s.ledger.Reconcile(ctx, candidate)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", symbol, err)
		}
		if outcome == dropdown.OutcomeRejected {
			continue
		}

		s.logger.Info().
			Str("ticker", symbol).
			Str("outcome", outcome.String()).
			Str("dropdown_pct", candidate.DropdownPct.StringFixed(2)).
			Msg("dropdown slot reconciled")

		if s.alertsOn && s.notifier != nil {
			if err := s.notifier.Notify(ctx, candidate); err != nil {
				s.logger.Error().Err(err).Str("ticker", symbol).Msg("failed to dispatch alert")
			}
		}
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
