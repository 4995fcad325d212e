// Package pipeline drives split → optimize → translate → synthesis for one
// subtitle file. The stage algorithms are external collaborators; this
// package owns context propagation, bounded fan-out, partial-failure
// isolation and progress aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"subvox/internal/taskctx"
	"subvox/internal/tts"
	"subvox/pkg/logger"
)

// ErrStopped is returned when Stop was called before a stage could start.
var ErrStopped = errors.New("pipeline: stopped")

// Processor is a stage collaborator: splitters, optimizers and translators
// all expose the same batch contract and internally call the chat gateway.
type Processor interface {
	Process(ctx context.Context, batch []string) ([]string, error)
}

// ProgressFunc receives a percentage (0-100) and a short message. It is the
// sole observability channel exposed upward.
type ProgressFunc func(percent int, message string)

// Config bounds the orchestrator's worker pool.
type Config struct {
	ThreadNum int
}

// Orchestrator runs the text stages over a bounded pool and hands the
// result to the synthesis engine. Stop prevents new units from being
// scheduled; in-flight calls run to completion or timeout.
type Orchestrator struct {
	split     Processor
	optimize  Processor
	translate Processor
	engine    *tts.Engine
	threadNum int
	stopped   atomic.Bool
}

func New(split, optimize, translate Processor, engine *tts.Engine, cfg Config) *Orchestrator {
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = 4
	}
	return &Orchestrator{
		split:     split,
		optimize:  optimize,
		translate: translate,
		engine:    engine,
		threadNum: cfg.ThreadNum,
	}
}

// Stop prevents new units from being scheduled. Best-effort: it does not
// cancel in-flight network calls.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// Run drives the text stages over batches. The task context is set before
// any work is dispatched and cleared on every exit path.
func (o *Orchestrator) Run(ctx context.Context, fileName string, batches [][]string, onProgress ProgressFunc) ([][]string, error) {
	taskctx.Set(newTaskID(), fileName, taskctx.StageSplit)
	defer taskctx.Clear()

	current, err := o.textStages(ctx, batches, onProgress)
	if err != nil {
		return current, err
	}

	if onProgress != nil {
		onProgress(100, "completed")
	}
	return current, nil
}

// Execute runs the full pipeline for one segment collection: text stages
// over batches of batchSize lines, results written back onto the segments,
// then synthesis into outDir, all under one task context. The terminal
// progress event comes from the synthesis driver.
func (o *Orchestrator) Execute(ctx context.Context, fileName string, data *tts.Data, outDir string, batchSize int, onProgress ProgressFunc) error {
	taskctx.Set(newTaskID(), fileName, taskctx.StageSplit)
	defer taskctx.Clear()

	current, err := o.textStages(ctx, batchSegments(data, batchSize), onProgress)
	if err != nil {
		return err
	}
	applyTexts(data, current)

	if o.engine != nil && data.Len() > 0 {
		if o.stopped.Load() {
			return ErrStopped
		}
		taskctx.UpdateStage(taskctx.StageSynthesis)
		if err := o.engine.SynthesizeBatch(ctx, data, outDir, tts.ProgressFunc(onProgress)); err != nil {
			return err
		}
	}

	return nil
}

// batchSegments groups segment texts into units of at most size lines.
func batchSegments(data *tts.Data, size int) [][]string {
	if size <= 0 {
		size = 20
	}
	var batches [][]string
	var current []string
	for _, seg := range data.Segments {
		current = append(current, seg.Text)
		if len(current) == size {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// applyTexts writes the processed lines back onto the segments in order.
// Failed units kept their input, so line counts always align.
func applyTexts(data *tts.Data, batches [][]string) {
	i := 0
	for _, batch := range batches {
		for _, line := range batch {
			if i >= data.Len() {
				return
			}
			data.Segments[i].Text = line
			i++
		}
	}
}

type stage struct {
	name taskctx.Stage
	proc Processor
}

// textStages runs split, optimize and translate in order. A failing unit
// keeps its input and never aborts sibling units.
func (o *Orchestrator) textStages(ctx context.Context, batches [][]string, onProgress ProgressFunc) ([][]string, error) {
	stages := []stage{
		{taskctx.StageSplit, o.split},
		{taskctx.StageOptimize, o.optimize},
		{taskctx.StageTranslate, o.translate},
	}

	var active []stage
	for _, s := range stages {
		if s.proc != nil {
			active = append(active, s)
		}
	}

	totalUnits := len(batches) * len(active)
	var done int64

	tc, _ := taskctx.Get()
	current := batches
	for _, s := range active {
		if o.stopped.Load() {
			return current, ErrStopped
		}

		taskctx.UpdateStage(s.name)
		logger.Info("pipeline stage starting",
			zap.String("task_id", tc.TaskID),
			zap.String("stage", string(s.name)),
			zap.Int("units", len(current)))

		units := len(current)
		current = o.runStage(ctx, s, current, func(unit int) {
			if onProgress == nil || totalUnits == 0 {
				return
			}
			n := atomic.AddInt64(&done, 1)
			onProgress(int(n*100/int64(totalUnits)), fmt.Sprintf("%s: unit %d/%d", s.name, unit+1, units))
		})
	}

	return current, nil
}

// runStage fans the units out over the bounded pool. Order is preserved by
// index regardless of completion order.
func (o *Orchestrator) runStage(ctx context.Context, s stage, batches [][]string, onUnitDone func(unit int)) [][]string {
	results := make([][]string, len(batches))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.threadNum)

	for i, batch := range batches {
		i, batch := i, batch

		if o.stopped.Load() {
			results[i] = batch
			continue
		}

		g.Go(func() error {
			out, err := s.proc.Process(gctx, batch)
			if err != nil {
				logger.Warn("stage unit failed, keeping input",
					zap.String("stage", string(s.name)),
					zap.Int("unit", i),
					zap.Error(err))
				out = batch
			}

			mu.Lock()
			results[i] = out
			mu.Unlock()

			if onUnitDone != nil {
				onUnitDone(i)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// newTaskID mints the opaque 8-character task identifier.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
