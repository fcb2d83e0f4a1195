// Package forwarder wires C5's row processor to C6's shard stream: for one
// file, rows are processed by a bounded worker pool, then emitted to the
// stream in strictly ascending row_index regardless of which worker finished
// first (spec.md §5's within-partition ordering guarantee).
package forwarder

import (
	"context"
	"sync"

	"github.com/ehr/ehr/internal/batch/rowprocessor"
	"github.com/ehr/ehr/internal/platform/refcache"
	"github.com/ehr/ehr/internal/platform/retry"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

// Config controls the worker pool and publish-retry behaviour.
type Config struct {
	WorkerCount int
	Retry       retry.Policy
}

func DefaultConfig() Config {
	return Config{WorkerCount: 8, Retry: retry.DefaultPolicy()}
}

// Forwarder processes a file's rows and publishes their envelopes.
type Forwarder struct {
	cache  refcache.Cache
	stream shardstream.Stream
	cfg    Config
}

func New(cache refcache.Cache, stream shardstream.Stream, cfg Config) *Forwarder {
	return &Forwarder{cache: cache, stream: stream, cfg: cfg}
}

type rowResult struct {
	index int
	env   shardstream.Envelope
	err   error
}

// ForwardFile runs Process over every row with a bounded worker pool, then
// publishes the resulting envelopes in ascending row_index order. A
// publish that exhausts its retries does not abort the file: the row is
// still emitted, marked with an UNHANDLED diagnostic, so ACK completion
// detection (C8) always receives one envelope per row (spec.md §4.4).
func (f *Forwarder) ForwardFile(ctx context.Context, fc rowprocessor.FileContext, rows []map[string]string) error {
	results := make([]rowResult, len(rows))
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.cfg.WorkerCount)

	for i, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, r map[string]string) {
			defer wg.Done()
			defer func() { <-sem }()

			env, err := rowprocessor.Process(ctx, f.cache, fc, idx, r)
			results[idx] = rowResult{index: idx, env: env, err: err}
		}(i, row)
	}
	wg.Wait()

	for _, res := range results {
		env := res.env
		if res.err != nil {
			env.Diagnostics = append(env.Diagnostics, shardstream.Diagnostic{
				Code:    shardstream.DiagnosticCodeUnhandled,
				Message: res.err.Error(),
			})
		}
		if err := f.publishWithRetry(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// publishWithRetry retries a transient publish failure per the configured
// policy; an exhausted retry still reaches the stream, carrying an
// UNHANDLED diagnostic instead of the row's outcome.
func (f *Forwarder) publishWithRetry(ctx context.Context, env shardstream.Envelope) error {
	err := f.cfg.Retry.Do(ctx, func() error {
		return f.stream.Publish(ctx, env)
	})
	if err == nil {
		return nil
	}

	failed := env
	failed.FHIRResource = nil
	failed.Diagnostics = append(failed.Diagnostics, shardstream.Diagnostic{
		Code:    shardstream.DiagnosticCodeUnhandled,
		Message: err.Error(),
	})
	return f.stream.Publish(ctx, failed)
}
