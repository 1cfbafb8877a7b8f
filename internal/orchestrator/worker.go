package orchestrator

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	RedisClient   redis.UniversalClient
	Topic         string
	ConsumerGroup string
	Pipelines     map[Kind]pipelineHandle
	Metrics       *Metrics
	Concurrency   int
	Logger        *zap.Logger
	// OnTick, if set, is called once per processed tick — the status
	// server's debug feed hooks in here rather than Worker depending on
	// StatusServer directly.
	OnTick func(TickEvent)
}

// QueueStats holds queue statistics, grounded on internal/worker.Worker's
// QueueStats.
type QueueStats struct {
	StreamLength int64
	Pending      int64
	Consumers    int64
}

// Worker consumes ticks from a Redis Stream and runs the matching
// pipeline.Runner, grounded on internal/worker.Worker's watermill
// router+redisstream wiring, generalized from a fixed block-height
// payload to a decoded Tick dispatched by Kind.
type Worker struct {
	router        *message.Router
	pipelines     map[Kind]pipelineHandle
	metrics       *Metrics
	redisClient   redis.UniversalClient
	topic         string
	consumerGroup string
	concurrency   int
	logger        *zap.Logger
	onTick        func(TickEvent)
}

// NewWorker creates a new Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := newWatermillLogger(logger)

	sub, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        cfg.RedisClient,
			ConsumerGroup: cfg.ConsumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	w := &Worker{
		router:        router,
		pipelines:     cfg.Pipelines,
		metrics:       cfg.Metrics,
		redisClient:   cfg.RedisClient,
		topic:         cfg.Topic,
		consumerGroup: cfg.ConsumerGroup,
		concurrency:   concurrency,
		logger:        logger,
		onTick:        cfg.OnTick,
	}

	router.AddNoPublisherHandler(
		"run-tick",
		cfg.Topic,
		sub,
		w.handleTick,
	)

	return w, nil
}

// handleTick processes a single tick message. Invalid payloads are acked
// rather than retried, since a malformed message will never decode
// successfully no matter how many times it's redelivered.
func (w *Worker) handleTick(msg *message.Message) error {
	start := time.Now()

	tick, err := decodeTick(msg.Payload)
	if err != nil {
		w.logger.Warn("orchestrator worker: invalid tick payload", zap.String("msg_uuid", msg.UUID), zap.Error(err))
		return nil
	}

	handle, ok := w.pipelines[tick.Kind]
	if !ok {
		w.logger.Warn("orchestrator worker: unknown tick kind", zap.String("kind", string(tick.Kind)), zap.String("msg_uuid", msg.UUID))
		return nil
	}

	w.logger.Info("orchestrator worker: tick start",
		zap.String("chain", tick.Chain), zap.String("kind", string(tick.Kind)), zap.String("phase", string(tick.Phase)), zap.String("msg_uuid", msg.UUID))

	ctx := context.Background()
	runErr := handle.Run(ctx, tick.Chain, tick.Phase, w.concurrency)
	duration := time.Since(start)

	status := "ok"
	if runErr != nil {
		status = "error"
	}
	if w.metrics != nil {
		w.metrics.TicksProcessed.WithLabelValues(tick.Chain, string(tick.Kind), string(tick.Phase), status).Inc()
		w.metrics.TickDuration.WithLabelValues(tick.Chain, string(tick.Kind), string(tick.Phase)).Observe(duration.Seconds())
	}

	if w.onTick != nil {
		event := TickEvent{Chain: tick.Chain, Kind: tick.Kind, Phase: tick.Phase, Status: status, Duration: duration.String(), ObservedAt: time.Now()}
		if runErr != nil {
			event.Err = runErr.Error()
		}
		w.onTick(event)
	}

	if runErr != nil {
		w.logger.Error("orchestrator worker: tick failed",
			zap.String("chain", tick.Chain), zap.String("kind", string(tick.Kind)), zap.String("phase", string(tick.Phase)),
			zap.String("msg_uuid", msg.UUID), zap.Duration("duration", duration), zap.Error(runErr))
		return runErr // redelivered
	}

	w.logger.Info("orchestrator worker: tick done",
		zap.String("chain", tick.Chain), zap.String("kind", string(tick.Kind)), zap.String("phase", string(tick.Phase)),
		zap.String("msg_uuid", msg.UUID), zap.Duration("duration", duration))
	return nil
}

// SetOnTick sets the debug-feed hook after construction, so a
// StatusServer built from this Worker (for QueueStats) can in turn be
// wired back into it without a construction-order cycle.
func (w *Worker) SetOnTick(fn func(TickEvent)) {
	w.onTick = fn
}

// Run starts the worker. It blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Close closes the worker.
func (w *Worker) Close() error {
	return w.router.Close()
}

// QueueStats returns current queue statistics.
func (w *Worker) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	length, err := w.redisClient.XLen(ctx, w.topic).Result()
	if err != nil {
		return stats, err
	}
	stats.StreamLength = length

	groups, err := w.redisClient.XInfoGroups(ctx, w.topic).Result()
	if err != nil {
		// Stream might not exist yet.
		return stats, nil
	}

	for _, g := range groups {
		if g.Name == w.consumerGroup {
			stats.Pending = g.Pending
			stats.Consumers = g.Consumers
			break
		}
	}

	return stats, nil
}
