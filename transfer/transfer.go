// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/taskvault/core"
	"github.com/poiesic/taskvault/retry"
	"github.com/poiesic/taskvault/storage"
)

const (
	defaultPoolSize  = 4
	defaultBatchSize = 100
)

var (
	ErrInvalidPoolSize  = errors.New("transfer: pool size must be positive")
	ErrInvalidBatchSize = errors.New("transfer: batch size must be positive")
)

// Report summarizes a completed copy.
type Report struct {
	// Read is the number of snapshots read from the source.
	Read int `json:"read"`

	// Written is the number of snapshots the destination accepted.
	Written int `json:"written"`

	// Batches is the number of write calls made against the destination.
	Batches int `json:"batches"`

	// Replaced is true when the destination was replaced wholesale.
	Replaced bool `json:"replaced"`

	Elapsed time.Duration `json:"elapsed"`
}

type options struct {
	replace   bool
	poolSize  int
	batchSize int
	progress  io.Writer
	retry     retry.Policy
	logger    *slog.Logger
}

// Option configures Copy.
type Option func(*options)

// WithReplace makes the destination hold exactly the source's snapshots,
// written in one ReplaceAll call.
func WithReplace() Option {
	return func(o *options) {
		o.replace = true
	}
}

// WithPoolSize sets how many batches are written concurrently.
func WithPoolSize(size int) Option {
	return func(o *options) {
		o.poolSize = size
	}
}

// WithBatchSize sets the number of snapshots per SaveTasks call.
func WithBatchSize(size int) Option {
	return func(o *options) {
		o.batchSize = size
	}
}

// WithProgress reports progress to w, typically os.Stderr.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

// WithRetryPolicy sets the backoff used when the destination reports a
// conflict.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Copy writes every snapshot in src to dst. Existing destination tasks with
// other ids are left alone unless WithReplace is given.
//
// Batches are independent: if one fails, batches already written stay
// written and Copy returns the first error after in-flight batches finish.
func Copy(ctx context.Context, src, dst storage.Repository, opts ...Option) (*Report, error) {
	o := options{
		poolSize:  defaultPoolSize,
		batchSize: defaultBatchSize,
		retry:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.poolSize < 1 {
		return nil, ErrInvalidPoolSize
	}
	if o.batchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "transfer")
	}
	o.retry.Retryable = retryable
	if o.retry.Logger == nil {
		o.retry.Logger = o.logger
	}

	start := time.Now()
	snapshots, err := src.GetAllTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}

	report := &Report{Read: len(snapshots), Replaced: o.replace}
	o.logger.Info("copy started", "tasks", len(snapshots), "replace", o.replace,
		"batch_size", o.batchSize, "pool_size", o.poolSize)

	var tracker *ProgressTracker
	if o.progress != nil {
		tracker = NewProgressTracker(o.progress, len(snapshots), o.batchSize)
		tracker.Start()
		defer tracker.Finish()
	}

	if o.replace {
		err := retry.Do(ctx, o.retry, func() error {
			return dst.ReplaceAll(ctx, snapshots)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replace destination: %w", err)
		}
		report.Written = len(snapshots)
		report.Batches = 1
		if tracker != nil {
			tracker.Increment(len(snapshots))
		}
		report.Elapsed = time.Since(start)
		return report, nil
	}

	written, batches, err := writeBatches(ctx, dst, snapshots, &o, tracker)
	report.Written = written
	report.Batches = batches
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, err
	}

	o.logger.Info("copy complete", "tasks", written, "batches", batches, "elapsed", report.Elapsed)
	return report, nil
}

func writeBatches(ctx context.Context, dst storage.Repository, snapshots []*core.TaskSnapshot, o *options, tracker *ProgressTracker) (int, int, error) {
	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		written  int
		batches  int
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for offset := 0; offset < len(snapshots); offset += o.batchSize {
		batch := snapshots[offset:min(offset+o.batchSize, len(snapshots))]
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := retry.Do(ctx, o.retry, func() error {
				return dst.SaveTasks(ctx, batch...)
			})
			if err != nil {
				fail(fmt.Errorf("failed to write batch at offset %d: %w", offset, err))
				return
			}
			mu.Lock()
			written += len(batch)
			batches++
			mu.Unlock()
			if tracker != nil {
				tracker.Increment(len(batch))
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit batch: %w", submitErr))
			break
		}
	}

	wg.Wait()
	return written, batches, firstErr
}

// retryable retries conflicts the destination raised itself, not ones that
// only carry a cancelled context.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return storage.IsConflict(err)
}
