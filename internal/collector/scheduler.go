package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

// tickerPeriod is how often ticker snapshots are refreshed.
const tickerPeriod = 10 * time.Second

// tailFetch is how many recent candles each periodic candle job requests.
// The overlap with already-stored candles is harmless; the store upserts.
const tailFetch = 10

// Venue is the slice of the exchange client the collector consumes.
type Venue interface {
	Exchange() string
	FetchCandles(ctx context.Context, symbol, interval string, since *int64, limit int) ([]domain.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	CandleBatchLimit() int
	Ping(ctx context.Context) error
}

// CandleSink receives collected candles and answers gap-fill scans.
type CandleSink interface {
	Save(ctx context.Context, records []domain.Candle) (int, error)
	Timestamps(ctx context.Context, exchange, symbol, interval string, since int64) (map[int64]struct{}, error)
}

// TickerSink receives collected ticker snapshots.
type TickerSink interface {
	Save(ctx context.Context, t domain.Ticker) error
}

// Scheduler runs one periodic candle job per (exchange, symbol, interval)
// tuple, one ticker job per (exchange, symbol) pair, and a bounded worker
// pool draining gap-fill tasks. Jobs fire on wall-clock tickers; a fire that
// lands while the previous one is still running is simply the next tick.
type Scheduler struct {
	cfg     config.Config
	venues  map[string]Venue
	candles CandleSink
	tickers TickerSink
	gate    *PauseGate
	filler  *GapFiller

	queue  chan GapFillTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg config.Config, venues map[string]Venue, candles CandleSink, tickers TickerSink, gate *PauseGate) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		venues:  venues,
		candles: candles,
		tickers: tickers,
		gate:    gate,
		filler:  NewGapFiller(candles, gate),
		queue:   make(chan GapFillTask, 256),
	}
}

// Gate exposes the pause gate for the admin surface.
func (s *Scheduler) Gate() *PauseGate { return s.gate }

// Start launches all jobs and the gap-fill workers. When gap-fill is enabled
// a startup task per tuple reconciles the configured look-back window.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.GapFillWorkers; i++ {
		s.wg.Add(1)
		go s.gapFillWorker(ctx)
	}

	for _, ex := range s.cfg.Exchanges {
		venue, ok := s.venues[ex.ID]
		if !ok {
			log.Error().Str("exchange", ex.ID).Msg("no client for configured exchange, skipping jobs")
			continue
		}
		for _, symbol := range ex.Symbols {
			s.wg.Add(1)
			go s.tickerJob(ctx, venue, symbol)

			for _, interval := range s.cfg.Intervals {
				s.wg.Add(1)
				go s.candleJob(ctx, venue, symbol, interval)

				if s.cfg.GapFillEnabled {
					s.EnqueueGapFill(GapFillTask{
						Exchange: ex.ID,
						Symbol:   symbol,
						Interval: interval,
						Days:     s.cfg.GapFillDays,
					})
				}
			}
		}
	}

	log.Info().
		Int("exchanges", len(s.cfg.Exchanges)).
		Int("intervals", len(s.cfg.Intervals)).
		Int("gap_fill_workers", s.cfg.GapFillWorkers).
		Msg("collector started")
}

// Stop cancels all jobs and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("collector stopped")
}

// EnqueueGapFill submits a task without blocking. Returns false when the
// queue is full.
func (s *Scheduler) EnqueueGapFill(task GapFillTask) bool {
	select {
	case s.queue <- task:
		return true
	default:
		log.Warn().Str("task", task.String()).Msg("gap-fill queue full, dropping task")
		return false
	}
}

func (s *Scheduler) gapFillWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			venue, ok := s.venues[task.Exchange]
			if !ok {
				log.Error().Str("task", task.String()).Msg("gap-fill task for unknown exchange")
				continue
			}
			if _, err := s.filler.Run(ctx, venue, task); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Str("task", task.String()).Msg("gap-fill task failed")
			}
		}
	}
}

// candleJob fetches the recent tail of one series at its natural cadence.
func (s *Scheduler) candleJob(ctx context.Context, venue Venue, symbol, interval string) {
	defer s.wg.Done()

	step, ok := domain.IntervalMillis(interval)
	if !ok {
		log.Error().Str("interval", interval).Msg("candle job for unknown interval")
		return
	}

	ticker := time.NewTicker(time.Duration(step) * time.Millisecond)
	defer ticker.Stop()

	s.collectCandles(ctx, venue, symbol, interval, step)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectCandles(ctx, venue, symbol, interval, step)
		}
	}
}

func (s *Scheduler) collectCandles(ctx context.Context, venue Venue, symbol, interval string, step int64) {
	exchange := venue.Exchange()
	if s.gate.Paused(exchange) {
		metrics.CollectRuns.WithLabelValues(exchange, "candles", "skipped").Inc()
		return
	}

	since := domain.AlignDown(time.Now().UnixMilli()-(tailFetch-1)*step, step)
	candles, err := venue.FetchCandles(ctx, symbol, interval, &since, tailFetch)
	if err != nil {
		s.handleCollectError(exchange, "candles", err)
		return
	}
	if len(candles) == 0 {
		metrics.CollectRuns.WithLabelValues(exchange, "candles", "ok").Inc()
		return
	}

	n, err := s.candles.Save(ctx, candles)
	if err != nil {
		log.Error().Err(err).Str("exchange", exchange).Str("symbol", symbol).
			Str("interval", interval).Msg("failed to store candles")
		metrics.CollectRuns.WithLabelValues(exchange, "candles", "error").Inc()
		return
	}

	metrics.CollectRuns.WithLabelValues(exchange, "candles", "ok").Inc()
	metrics.CandlesStored.WithLabelValues(exchange).Add(float64(n))
	log.Debug().Str("exchange", exchange).Str("symbol", symbol).
		Str("interval", interval).Int("count", n).Msg("candles collected")
}

// tickerJob refreshes one pair's snapshot every tickerPeriod.
func (s *Scheduler) tickerJob(ctx context.Context, venue Venue, symbol string) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickerPeriod)
	defer ticker.Stop()

	s.collectTicker(ctx, venue, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectTicker(ctx, venue, symbol)
		}
	}
}

func (s *Scheduler) collectTicker(ctx context.Context, venue Venue, symbol string) {
	exchange := venue.Exchange()
	if s.gate.Paused(exchange) {
		metrics.CollectRuns.WithLabelValues(exchange, "ticker", "skipped").Inc()
		return
	}

	snapshot, err := venue.FetchTicker(ctx, symbol)
	if err != nil {
		s.handleCollectError(exchange, "ticker", err)
		return
	}

	if err := s.tickers.Save(ctx, *snapshot); err != nil {
		log.Error().Err(err).Str("exchange", exchange).Str("symbol", symbol).
			Msg("failed to cache ticker")
		metrics.CollectRuns.WithLabelValues(exchange, "ticker", "error").Inc()
		return
	}
	metrics.CollectRuns.WithLabelValues(exchange, "ticker", "ok").Inc()
}

func (s *Scheduler) handleCollectError(exchange, job string, err error) {
	result := "error"
	if rl, ok := domain.AsRateLimit(err); ok {
		result = "rate_limited"
		s.gate.Pause(rl.Exchange, rl.RetryAfter)
		metrics.RateLimitPauses.WithLabelValues(rl.Exchange).Inc()
		log.Warn().Str("exchange", rl.Exchange).Dur("retry_after", rl.RetryAfter).
			Msg("rate limited, pausing exchange")
	} else {
		log.Error().Err(err).Str("exchange", exchange).Str("job", job).Msg("collection failed")
	}
	metrics.CollectRuns.WithLabelValues(exchange, job, result).Inc()
}
