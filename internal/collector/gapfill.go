package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

// gapFetchLimit is the per-batch candle count requested while back-filling.
// Venue adapters clamp it further to their own maximums.
const gapFetchLimit = 1000

// gapBatchDelay spaces consecutive back-fill requests to the same venue.
const gapBatchDelay = time.Second

// GapFillTask names one series to reconcile over a look-back window.
type GapFillTask struct {
	Exchange string
	Symbol   string
	Interval string
	Days     int
}

func (t GapFillTask) String() string {
	return fmt.Sprintf("%s/%s/%s over %dd", t.Exchange, t.Symbol, t.Interval, t.Days)
}

// timeRange is an inclusive span of expected candle open times.
type timeRange struct {
	Start int64
	End   int64
}

// missingRanges diffs the expected timeline [start, end] stepped by step
// against the present set and returns the contiguous missing runs in order.
func missingRanges(present map[int64]struct{}, start, end, step int64) []timeRange {
	var runs []timeRange
	var open *timeRange
	for ts := start; ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			if open != nil {
				runs = append(runs, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &timeRange{Start: ts, End: ts}
		} else {
			open.End = ts
		}
	}
	if open != nil {
		runs = append(runs, *open)
	}
	return runs
}

// GapFiller reconciles stored candle series against the expected timeline by
// re-fetching the missing spans. One run per task; the scheduler's worker
// pool provides the concurrency.
type GapFiller struct {
	sink CandleSink
	gate *PauseGate
	now  func() time.Time
}

func NewGapFiller(sink CandleSink, gate *PauseGate) *GapFiller {
	return &GapFiller{sink: sink, gate: gate, now: time.Now}
}

// Run executes one gap-fill task. It returns the number of candles written.
// A venue rate limit pauses the exchange and aborts the remaining ranges;
// already-filled ranges stay filled.
func (f *GapFiller) Run(ctx context.Context, venue Venue, task GapFillTask) (int, error) {
	step, ok := domain.IntervalMillis(task.Interval)
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", task.Interval)
	}

	nowMs := f.now().UnixMilli()
	start := domain.AlignDown(nowMs-int64(task.Days)*86_400_000, step)
	end := domain.AlignDown(nowMs, step)

	present, err := f.sink.Timestamps(ctx, task.Exchange, task.Symbol, task.Interval, start)
	if err != nil {
		return 0, err
	}

	expected := (end-start)/step + 1
	coverage := float64(len(present)) / float64(expected) * 100
	runs := missingRanges(present, start, end, step)

	log.Info().
		Str("exchange", task.Exchange).
		Str("symbol", task.Symbol).
		Str("interval", task.Interval).
		Int64("expected", expected).
		Int("present", len(present)).
		Float64("coverage_pct", coverage).
		Int("gaps", len(runs)).
		Msg("gap-fill scan complete")

	if len(runs) == 0 {
		return 0, nil
	}

	filled := 0
	for _, rng := range runs {
		n, err := f.fillRange(ctx, venue, task, rng, step)
		filled += n
		if err != nil {
			// Transient venue failures abandon this run only; later runs
			// may still succeed. Anything else aborts the task.
			if domain.IsTransient(err) {
				log.Warn().Err(err).Str("task", task.String()).
					Int64("run_start", rng.Start).Msg("abandoning gap run after transient error")
				continue
			}
			return filled, err
		}
	}

	metrics.GapFillRecords.WithLabelValues(task.Exchange).Add(float64(filled))
	log.Info().
		Str("exchange", task.Exchange).
		Str("symbol", task.Symbol).
		Str("interval", task.Interval).
		Int("filled", filled).
		Msg("gap-fill complete")
	return filled, nil
}

// fillRange walks one missing run in venue-sized batches. The venue may
// return fewer candles than asked for when its history does not reach back
// far enough; a short or empty batch ends the run.
func (f *GapFiller) fillRange(ctx context.Context, venue Venue, task GapFillTask, rng timeRange, step int64) (int, error) {
	// Cap batches at the venue's own per-request maximum, otherwise a full
	// venue-sized response would look short and end the run early.
	batchCap := gapFetchLimit
	if max := venue.CandleBatchLimit(); max > 0 && max < batchCap {
		batchCap = max
	}

	filled := 0
	since := rng.Start
	first := true

	for since <= rng.End {
		if f.gate.Paused(task.Exchange) {
			return filled, fmt.Errorf("exchange %s is paused", task.Exchange)
		}
		if !first {
			select {
			case <-ctx.Done():
				return filled, ctx.Err()
			case <-time.After(gapBatchDelay):
			}
		}
		first = false

		remaining := int((rng.End-since)/step + 1)
		limit := batchCap
		if remaining < limit {
			limit = remaining
		}

		candles, err := venue.FetchCandles(ctx, task.Symbol, task.Interval, &since, limit)
		if err != nil {
			if rl, ok := domain.AsRateLimit(err); ok {
				f.gate.Pause(rl.Exchange, rl.RetryAfter)
				log.Warn().
					Str("exchange", rl.Exchange).
					Dur("retry_after", rl.RetryAfter).
					Msg("rate limited during gap-fill, pausing exchange")
			}
			return filled, err
		}
		if len(candles) == 0 {
			break
		}

		n, err := f.sink.Save(ctx, candles)
		if err != nil {
			return filled, err
		}
		filled += n

		since = candles[len(candles)-1].Timestamp + step
		if len(candles) < limit {
			break
		}
	}
	return filled, nil
}
