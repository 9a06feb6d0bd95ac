// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/javolution/javolution-go/pkg/common/array"
	"github.com/javolution/javolution-go/pkg/common/fastheap"
	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/common/object"
	"github.com/javolution/javolution-go/pkg/config"
	"github.com/javolution/javolution-go/pkg/logutil"
	v2 "github.com/javolution/javolution-go/pkg/util/metric/v2"
)

// workload runs allocation rounds on a pool of workers.
type workload struct {
	cfg  config.WorkloadConfig
	heap *fastheap.Heap
}

// summary holds the number of rounds completed by each worker.
type summary struct {
	BlockRounds []int64
	ArrayRounds []int64
}

// results is shared by all workers and only touched under its monitor.
type results struct {
	object.Header
	mu     sync.Mutex
	blocks array.Array[int64]
	arrays array.Array[int64]
}

func (r *results) Monitor() sync.Locker {
	return &r.mu
}

func (r *results) Finalize() {
	r.blocks.Release()
	r.arrays.Release()
}

func newWorkload(cfg config.WorkloadConfig, heap *fastheap.Heap) *workload {
	return &workload{cfg: cfg, heap: heap}
}

func (w *workload) run(ctx context.Context) (summary, error) {
	res := &results{}
	var err error
	if res.blocks, err = array.Make[int64](w.cfg.Workers); err != nil {
		return summary{}, err
	}
	if res.arrays, err = array.Make[int64](w.cfg.Workers); err != nil {
		res.blocks.Release()
		return summary{}, err
	}
	shared := object.New(res)
	defer shared.Release()

	logger := logutil.FromContext(ctx)
	pool, err := ants.NewPool(w.cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("workload pool panic", zap.Any("panic", p))
	}))
	if err != nil {
		return summary{}, moerr.ConvertGoError(ctx, err)
	}
	defer pool.Release()

	logger.Info("workload started",
		zap.Int("workers", w.cfg.Workers),
		zap.Int("iterations", w.cfg.Iterations),
		zap.Int("batch size", w.cfg.BatchSize),
		zap.Int("array length", w.cfg.ArrayLength),
	)
	start := time.Now()

	var wg sync.WaitGroup
	errs := make([]error, w.cfg.Workers)
	for id := 0; id < w.cfg.Workers; id++ {
		id := id
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					err := moerr.ConvertPanicError(ctx, p)
					logger.Error("workload worker panic", zap.Int("worker", id), zap.Error(err))
					errs[id] = err
				}
			}()
			errs[id] = w.worker(ctx, id, shared)
		}); err != nil {
			wg.Done()
			errs[id] = moerr.ConvertGoError(ctx, err)
		}
	}
	wg.Wait()

	var sum summary
	_ = object.Synchronized(shared, func() error {
		sum.BlockRounds = res.blocks.ToSlice()
		sum.ArrayRounds = res.arrays.ToSlice()
		return nil
	})
	logger.Info("workload finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int64s("block rounds", sum.BlockRounds),
		zap.Int64s("array rounds", sum.ArrayRounds),
	)
	for _, err := range errs {
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (w *workload) worker(ctx context.Context, id int, shared object.Object) error {
	res, err := object.This[*results](shared)
	if err != nil {
		return err
	}
	bufs := make([][]byte, 0, w.cfg.BatchSize)
	for i := 0; i < w.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		if err := w.blockRound(id, bufs[:0]); err != nil {
			return err
		}
		v2.WorkloadBlockRoundDurationHistogram.Observe(time.Since(start).Seconds())
		v2.WorkloadBlockRoundCounter.Inc()

		start = time.Now()
		if err := w.arrayRound(i); err != nil {
			return err
		}
		v2.WorkloadArrayRoundDurationHistogram.Observe(time.Since(start).Seconds())
		v2.WorkloadArrayRoundCounter.Inc()

		if err := object.Synchronized(shared, func() error {
			for _, a := range []*array.Array[int64]{&res.blocks, &res.arrays} {
				p, err := a.At(id)
				if err != nil {
					return err
				}
				*p++
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// blockRound allocates a batch of blocks, stamps them with the worker id and
// checks that no other worker wrote to them before returning them.
func (w *workload) blockRound(id int, bufs [][]byte) error {
	mark := byte(id + 1)
	for i := 0; i < w.cfg.BatchSize; i++ {
		buf := w.heap.Allocate(fastheap.BlockCapacity)
		for j := range buf {
			buf[j] = mark
		}
		bufs = append(bufs, buf)
	}
	var err error
	for _, buf := range bufs {
		for j := range buf {
			if buf[j] != mark && err == nil {
				err = moerr.NewInternalErrorNoCtx("block written by another worker: got %d, want %d", buf[j], mark)
			}
		}
		w.heap.Deallocate(buf)
	}
	return err
}

// arrayRound grows an array, shrinks it to a third and grows it back,
// checking the kept prefix survives and the regrown tail is zero.
func (w *workload) arrayRound(round int) error {
	n := w.cfg.ArrayLength
	a, err := array.Make[int64](n)
	if err != nil {
		return err
	}
	defer a.Release()
	for i := 0; i < n; i++ {
		if err := a.Set(i, int64(round+i)); err != nil {
			return err
		}
	}
	kept := n / 3
	if err := a.SetLength(kept); err != nil {
		return err
	}
	if err := a.SetLength(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		v, err := a.Get(i)
		if err != nil {
			return err
		}
		want := int64(0)
		if i < kept {
			want = int64(round + i)
		}
		if v != want {
			return moerr.NewInternalErrorNoCtx("array element %d: got %d, want %d", i, v, want)
		}
	}
	v2.WorkloadArrayLengthGauge.Set(float64(a.Length))
	return nil
}
