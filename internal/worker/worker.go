// Package worker runs independent analyses over many inputs with bounded concurrency,
// an optional global rate limit, and retries for transient failures.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	Logger *zap.Logger
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Index    int
	Input    In
	Output   Out
	Err      error
	Attempts int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		// The report engine alone may poll for two minutes.
		o.RequestTimeout = 3 * time.Minute
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ProcessAll runs processor over all items. Results are returned in input order.
//
// Under FailurePolicyFailFast the first failure cancels outstanding work and is
// returned with a nil slice. Under FailurePolicyPartialOutput per-item errors are
// recorded on the Result and only a cancelled parent context fails the call.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback is ProcessAll with onResult invoked, from a single goroutine,
// as each item completes. A callback error stops the run and is returned.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	g, runCtx := errgroup.WithContext(ctx)

	jobs := make(chan int)
	done := make(chan Result[In, Out], opts.Workers)

	g.Go(func() error {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return nil
			}
		}
		return nil
	})

	workers, wctx := errgroup.WithContext(runCtx)
	for range opts.Workers {
		workers.Go(func() error {
			for i := range jobs {
				res := processOne(wctx, i, items[i], processor, limiter, opts)
				select {
				case done <- res:
				case <-wctx.Done():
					return wctx.Err()
				}
				if res.Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
					return res.Err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		err := workers.Wait()
		close(done)
		return err
	})

	out := make([]Result[In, Out], len(items))
	var cbErr error
	g.Go(func() error {
		for res := range done {
			out[res.Index] = res
			if onResult == nil || cbErr != nil {
				continue
			}
			if err := onResult(res); err != nil {
				cbErr = err
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if cbErr != nil {
		return nil, cbErr
	}
	if err != nil && opts.FailurePolicy == FailurePolicyFailFast {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	idx int,
	in In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	res := Result[In, Out]{Index: idx, Input: in}
	attempts := 1 + opts.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		res.Attempts = attempt + 1
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Err = err
				return res
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		v, err := processor(reqCtx, in)
		cancel()
		if err == nil {
			res.Output = v
			res.Err = nil
			return res
		}
		res.Err = err
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if !analysis.IsTransient(err) || attempt == attempts-1 {
			return res
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		opts.Logger.Info("retrying transient failure",
			zap.Int("item", idx),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", sleep),
			zap.String("error", redact.Secrets(err.Error())),
		)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			res.Err = ctx.Err()
			return res
		}
	}
	return res
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
