package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/redis"
	"github.com/nimasrn/number-market/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles the entries of one stream.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	ConsumerGroup string
	ConsumerName  string
	MaxRetries    int
	PollInterval  time.Duration
	Workers       int
	BufferSize    int
}

// ProcessorService consumes a set of streams and hands their entries to a
// shared worker pool. Entries of one stream that carry the same key (the
// payment id or the phone) are processed in order on one worker.
type ProcessorService struct {
	adapter  redis.RedisAdapter
	config   ServiceConfig
	bindings map[string]Processor
	queues   []*queue.Queue
	metrics  *ServiceMetrics
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	worker   *worker.WorkerManager
}

func NewProcessorService(adapter redis.RedisAdapter, config ServiceConfig) *ProcessorService {
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "processor"
	}
	if config.Workers <= 0 {
		config.Workers = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:  adapter,
		config:   config,
		bindings: make(map[string]Processor),
		metrics:  NewServiceMetrics(),
		ctx:      ctx,
		cancel:   cancel,
		worker:   worker.NewWorkerManager(config.BufferSize, config.Workers, nil),
	}
}

// Bind routes the entries of stream to p. Call before Start.
func (s *ProcessorService) Bind(stream string, p Processor) {
	s.bindings[stream] = p
	logger.Info("Registered processor", "stream", stream, "type", p.GetType())
}

func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...")
	if len(s.bindings) == 0 {
		return fmt.Errorf("no processors bound")
	}

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("Worker manager stopped", "reason", err)
		}
	}()

	for stream := range s.bindings {
		q, err := queue.NewQueue(s.adapter, queue.QueueConfig{
			Name:          stream,
			ConsumerGroup: s.config.ConsumerGroup,
			ConsumerName:  s.config.ConsumerName,
			MaxRetries:    s.config.MaxRetries,
			PollInterval:  s.config.PollInterval,
			EnableDLQ:     true,
		})
		if err != nil {
			return fmt.Errorf("failed to create queue %s: %w", stream, err)
		}
		if err := q.Consume(s.messageHandler(stream)); err != nil {
			return fmt.Errorf("failed to start consumer %s: %w", stream, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "streams", len(s.queues), "workers", s.config.Workers)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	logger.Debug("Processor status", "uptime_s", int64(s.metrics.Uptime().Seconds()), "backlog", s.worker.GetUnreadCount())
	for _, st := range s.metrics.Snapshot() {
		logger.Info("Metrics", "stream", st.Stream, "processed", st.Processed, "failed", st.Failed,
			"avg_duration_ms", st.AvgDuration.Milliseconds(), "max_duration_ms", st.MaxDuration.Milliseconds())
	}

	for _, q := range s.queues {
		if qStats, err := q.GetStats(s.ctx); err == nil {
			logger.Info("Queue stats", "stream", q.Name(), "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Ping(s.ctx); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}
	for _, q := range s.queues {
		stats, err := q.GetStats(s.ctx)
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "stream", q.Name(), "error", err)
			continue
		}
		if stats.PendingMessages > 1000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "stream", q.Name(), "pending_messages", stats.PendingMessages)
		}
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...")
	s.cancel()

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func(q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("Error stopping queue", "stream", q.Name(), "error", err)
			}
		}(q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

type job struct {
	stream     string
	msg        *queue.Message
	processor  Processor
	resultChan chan error
	ctx        context.Context
}

// jobKey picks the ordering key for an entry: payment id for callbacks,
// phone for codes, stream entry id otherwise.
func jobKey(stream string, msg *queue.Message) string {
	for _, k := range []string{"payment_id", "phone", "user_id"} {
		if v := msg.Metadata[k]; v != "" {
			return stream + ":" + v
		}
	}
	return stream + ":" + msg.ID
}

func (s *ProcessorService) messageHandler(stream string) queue.MessageHandler {
	p := s.bindings[stream]
	return func(ctx context.Context, msg *queue.Message) error {
		msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
		defer cancel()

		j := &job{
			stream:     stream,
			msg:        msg,
			processor:  p,
			resultChan: make(chan error, 1),
			ctx:        msgCtx,
		}
		s.worker.EnqueueKeyed(jobKey(stream, msg), j)

		select {
		case err := <-j.resultChan:
			return err
		case <-msgCtx.Done():
			return fmt.Errorf("timeout waiting for worker to process entry: %w", msgCtx.Err())
		}
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, item interface{}) {
	j, ok := item.(*job)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex, "stream", j.stream)
		return
	}

	start := time.Now()
	err := j.processor.Process(j.ctx, j.msg)
	if err != nil {
		s.metrics.RecordFailure(j.stream)
		logger.Error("Failed to process entry", "worker", workerIndex, "stream", j.stream, "id", j.msg.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(j.stream, time.Since(start))
	}
	j.resultChan <- err
}
