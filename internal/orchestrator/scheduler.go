package orchestrator

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts a *zap.Logger to cron.Logger, grounded on
// canopyx's controller package passing cron.DefaultLogger into
// cron.WithChain(cron.Recover(logger)) — generalized to zap since
// internal/orchestrator is a storage/admin-adjacent layer.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Sugar().Infow(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// ChainSchedule is one chain's recurring tick cadence.
type ChainSchedule struct {
	Chain          string
	RecentSpec     string // cron.WithSeconds() expression, e.g. "*/15 * * * * *"
	HistoricalSpec string
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Publisher                 *Publisher
	Metrics                   *Metrics
	Chains                    []ChainSchedule
	OraclePriceSpec           string // global, chain-agnostic recent tick for oracle-price
	OraclePriceHistoricalSpec string // global, chain-agnostic historical tick for oracle-price
	TickTimeout               time.Duration
	Logger                    *zap.Logger
}

// Scheduler publishes recurring import ticks per chain, plus the two
// global oracle-price ticks (recent and historical — price feeds carry
// no chain), onto a Publisher. Grounded on canopyx's
// App.SetupScheduler: cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger))),
// one AddFunc per cadence, each bounded by a context.WithTimeout.
type Scheduler struct {
	cron        *cron.Cron
	publisher   *Publisher
	metrics     *Metrics
	tickTimeout time.Duration
	logger      *zap.Logger
}

// NewScheduler builds a Scheduler and registers every chain's cron jobs.
// It does not start the clock; call Start.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.TickTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{l: logger}))),
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		tickTimeout: timeout,
		logger:      logger,
	}

	for _, cs := range cfg.Chains {
		if cs.RecentSpec != "" {
			if err := s.addJob(cs.RecentSpec, Tick{Chain: cs.Chain, Kind: KindInvestment, Phase: PhaseRecent}); err != nil {
				return nil, err
			}
			if err := s.addJob(cs.RecentSpec, Tick{Chain: cs.Chain, Kind: KindShareRate, Phase: PhaseRecent}); err != nil {
				return nil, err
			}
		}
		if cs.HistoricalSpec != "" {
			if err := s.addJob(cs.HistoricalSpec, Tick{Chain: cs.Chain, Kind: KindInvestment, Phase: PhaseHistorical}); err != nil {
				return nil, err
			}
			if err := s.addJob(cs.HistoricalSpec, Tick{Chain: cs.Chain, Kind: KindShareRate, Phase: PhaseHistorical}); err != nil {
				return nil, err
			}
		}
	}

	if cfg.OraclePriceSpec != "" {
		if err := s.addJob(cfg.OraclePriceSpec, Tick{Kind: KindOraclePrice, Phase: PhaseRecent}); err != nil {
			return nil, err
		}
	}
	if cfg.OraclePriceHistoricalSpec != "" {
		if err := s.addJob(cfg.OraclePriceHistoricalSpec, Tick{Kind: KindOraclePrice, Phase: PhaseHistorical}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) addJob(spec string, tick Tick) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
		defer cancel()
		if err := s.publisher.PublishTick(ctx, tick); err != nil {
			s.logger.Error("orchestrator scheduler: publish tick failed",
				zap.String("chain", tick.Chain), zap.String("kind", string(tick.Kind)), zap.String("phase", string(tick.Phase)), zap.Error(err))
			return
		}
		if s.metrics != nil {
			s.metrics.TicksPublished.WithLabelValues(tick.Chain, string(tick.Kind), string(tick.Phase)).Inc()
		}
	})
	return err
}

// Start starts the cron clock. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron clock, waiting for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
